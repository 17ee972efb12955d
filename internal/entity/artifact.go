package entity

// ArtifactRef points at one artifact (image, caption file, weight file).
// Either URL or Bucket+Key is set depending on where the bytes currently live.
type ArtifactRef struct {
	URL    string `json:"url,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	// Size is a hint from the producer; 0 means unknown.
	Size int64 `json:"size,omitempty"`
}
