package capability

// OfflineCapabilities lists which task families the on-device backend can serve without a network.
type OfflineCapabilities struct {
	TextProcessing    bool `json:"text_processing"`
	ImageProcessing   bool `json:"image_processing"`
	VoiceProcessing   bool `json:"voice_processing"`
	LanguageDetection bool `json:"language_detection"`
	SentimentAnalysis bool `json:"sentiment_analysis"`
	EntityExtraction  bool `json:"entity_extraction"`
}

// OverallScore is the fraction of the six flags that are set.
func (c OfflineCapabilities) OverallScore() float64 {
	flags := []bool{
		c.TextProcessing,
		c.ImageProcessing,
		c.VoiceProcessing,
		c.LanguageDetection,
		c.SentimentAnalysis,
		c.EntityExtraction,
	}
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return float64(n) / float64(len(flags))
}
