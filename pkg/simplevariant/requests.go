package simplevariant

// MaxBatchSize is the most image ids BatchBestURLs accepts per call.
const MaxBatchSize = 50

// UploadOriginalRequest contains parameters for storing a new original
type UploadOriginalRequest struct {
	Filename    string
	ContentType string
	Data        []byte
}
