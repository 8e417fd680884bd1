package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/network"
	"github.com/hrygo/fincue/ai/routing"
	"github.com/hrygo/fincue/internal/version"
)

var (
	processCmd = &cobra.Command{
		Use:   "process",
		Short: "Route a single task through the local and remote backends",
	}

	processTextCmd = &cobra.Command{
		Use:   "text [description...]",
		Short: "Parse a transaction description; reads stdin when given - or nothing",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetBool("batch")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			return runWithApp(cmd, func(ctx context.Context, a *app) (any, error) {
				text, err := textInput(cmd.InOrStdin(), args)
				if err != nil {
					return nil, err
				}
				if !batch {
					return a.router.ProcessText(ctx, text)
				}
				return batchOutput(a.router.ProcessTextBatch(ctx, splitLines(text), concurrency)), nil
			})
		},
	}

	processImageCmd = &cobra.Command{
		Use:   "image <file|->",
		Short: "Extract receipt fields from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) (any, error) {
				data, err := fileInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return nil, err
				}
				img, err := backend.NewImageInput(data)
				if err != nil {
					return nil, err
				}
				return a.router.ProcessImage(ctx, img)
			})
		},
	}

	processAudioCmd = &cobra.Command{
		Use:   "audio <file|->",
		Short: "Transcribe a voice note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) (any, error) {
				data, err := fileInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return nil, err
				}
				return a.router.ProcessAudio(ctx, data)
			})
		},
	}

	strategyCmd = &cobra.Command{
		Use:   "strategy",
		Short: "Show or change the routing strategy",
	}

	strategyGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Print the effective and preferred strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(_ context.Context, a *app) (any, error) {
				return strategyOutput(a.router.Strategy()), nil
			})
		},
	}

	strategySetCmd = &cobra.Command{
		Use:       "set <local_only|local_first|remote_first|hybrid|auto>",
		Short:     "Store a new preferred strategy",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"local_only", "local_first", "remote_first", "hybrid", "auto"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) (any, error) {
				st, err := routing.ParseStrategy(args[0])
				if err != nil {
					return nil, err
				}
				state := a.router.Strategy()
				if err := state.Update(ctx, st); err != nil {
					return nil, err
				}
				if cmd.Flags().Changed("threshold") {
					v, _ := cmd.Flags().GetFloat64("threshold")
					if err := state.SetThreshold(ctx, v); err != nil {
						return nil, err
					}
				}
				return strategyOutput(state), nil
			})
		},
	}

	capabilityCmd = &cobra.Command{
		Use:   "capability",
		Short: "Report device, on-device model and network capability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(_ context.Context, a *app) (any, error) {
				caps := a.router.Capabilities()
				return capabilityOutput{
					Device:           deviceProfile(a.profile),
					DeviceCapability: a.router.DeviceCapability(),
					Offline:          caps,
					OverallScore:     caps.OverallScore(),
					InitialStrategy:  routing.InitialStrategy(caps.OverallScore()),
					Connected:        a.network.IsConnected(),
					ConnectionType:   a.network.ConnectionType(),
					Quality:          a.network.Quality(),
				}, nil
			})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.StringFull())
		},
	}
)

func init() {
	processTextCmd.Flags().Bool("batch", false, "treat each input line as a separate description")
	processTextCmd.Flags().Int("concurrency", routing.DefaultBatchConcurrency, "batch items processed at once")
	processCmd.AddCommand(processTextCmd, processImageCmd, processAudioCmd)

	strategySetCmd.Flags().Float64("threshold", routing.DefaultThreshold, "also set the local-first confidence threshold")
	strategyCmd.AddCommand(strategyGetCmd, strategySetCmd)
}

// runWithApp builds a short-lived app, runs fn and prints its result as JSON.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	logger := setupLogger(instanceProfile)

	ctx, stop := signal.NotifyContext(cmd.Context(), terminationSignals...)
	defer stop()

	a, err := newApp(ctx, instanceProfile, appOptions{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	a.syncConnectivity(ctx)

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// textInput joins args, or reads r when args are empty or a single "-".
func textInput(r io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "failed to read stdin")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no input text")
	}
	return text, nil
}

// fileInput reads path, or r when path is "-".
func fileInput(r io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("%s is empty", path)
	}
	return data, nil
}

func splitLines(text string) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewBufferString(text))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

type batchLine struct {
	Index  int                                                  `json:"index"`
	Result *routing.ProcessingResult[backend.ParsedTransaction] `json:"result,omitempty"`
	Error  string                                               `json:"error,omitempty"`
}

func batchOutput(items []routing.BatchItem) []batchLine {
	out := make([]batchLine, len(items))
	for i, item := range items {
		out[i] = batchLine{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}
	return out
}

type strategyState struct {
	Current         routing.Strategy `json:"current"`
	Preferred       routing.Strategy `json:"preferred"`
	OfflineOverride bool             `json:"offline_override"`
	Forced          bool             `json:"forced"`
	Threshold       float64          `json:"threshold"`
}

func strategyOutput(s *routing.StrategyState) strategyState {
	return strategyState{
		Current:         s.Current(),
		Preferred:       s.Preferred(),
		OfflineOverride: s.OfflineOverride(),
		Forced:          s.Forced(),
		Threshold:       s.Threshold(),
	}
}

type capabilityOutput struct {
	Device           capability.DeviceProfile       `json:"device"`
	DeviceCapability float64                        `json:"device_capability"`
	Offline          capability.OfflineCapabilities `json:"offline"`
	OverallScore     float64                        `json:"overall_score"`
	InitialStrategy  routing.Strategy               `json:"initial_strategy"`
	Connected        bool                           `json:"connected"`
	ConnectionType   network.ConnectionType         `json:"connection_type"`
	Quality          network.Quality                `json:"quality"`
}
