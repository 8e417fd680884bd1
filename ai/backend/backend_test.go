package backend

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFail(t *testing.T) {
	t.Run("wraps with task kind", func(t *testing.T) {
		cause := errors.New("model returned garbage")
		err := Fail(TaskImage, SourceLocal, cause)

		var pe *ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, TaskImage, pe.Task)
		assert.Equal(t, SourceLocal, pe.Source)
		assert.ErrorIs(t, err, ErrImageProcessingFailed)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("network kind wins", func(t *testing.T) {
		err := Fail(TaskText, SourceRemote, fmt.Errorf("dial: %w", ErrNetworkUnavailable))
		assert.True(t, IsNetworkUnavailable(err))
		assert.NotErrorIs(t, err, ErrTextProcessingFailed)
	})

	t.Run("bare sentinel not duplicated", func(t *testing.T) {
		err := Fail(TaskAudio, SourceRemote, ErrProcessingTimeout)
		assert.Equal(t, "remote audio: processing timed out", err.Error())
	})

	t.Run("existing processing error kept", func(t *testing.T) {
		inner := Fail(TaskAudio, SourceRemote, errors.New("boom"))
		assert.Same(t, inner, Fail(TaskText, SourceLocal, inner))
	})
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, ErrTextProcessingFailed, TaskText.FailureKind())
	assert.Equal(t, ErrImageProcessingFailed, TaskImage.FailureKind())
	assert.Equal(t, ErrAudioProcessingFailed, TaskAudio.FailureKind())
}

func TestDecodeTransaction(t *testing.T) {
	raw := "```json\n" + `{"description":"Lunch","merchant":"Deli","amount":12.5,"currency":"usd",
"category":"Food","type":"expense","date":"2026-03-14","confidence":1.4}` + "\n```"

	tx, conf, err := DecodeTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, "Deli", tx.Merchant)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, TransactionExpense, tx.Type)
	require.NotNil(t, tx.Date)
	assert.Equal(t, 14, tx.Date.Day())
	require.NotNil(t, conf)
	assert.Equal(t, 1.0, *conf)

	tx, conf, err = DecodeTransaction(`{"description":"salary","amount":3000,"type":"INCOME"}`)
	require.NoError(t, err)
	assert.Equal(t, TransactionIncome, tx.Type)
	assert.Nil(t, conf)
	assert.Nil(t, tx.Date)

	_, _, err = DecodeTransaction("not json")
	assert.Error(t, err)
}

func TestDecodeReceipt(t *testing.T) {
	r, err := DecodeReceipt(`{"merchant":"Mart","total":20.4,"items":[{"name":"milk","price":2.1}]}`, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Mart", r.Merchant)
	assert.Len(t, r.Items, 1)
	assert.Equal(t, 0.7, r.Confidence)

	r, err = DecodeReceipt(`{"total":1,"confidence":0.93}`, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.93, r.Confidence)
}

func TestNewImageInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))

	in, err := NewImageInput(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", in.Format)
	assert.Equal(t, 40, in.Width)
	assert.Equal(t, 20, in.Height)

	_, err = NewImageInput([]byte("nope"))
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("remote")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, s)

	_, err = ParseSource("edge")
	assert.Error(t, err)
}
