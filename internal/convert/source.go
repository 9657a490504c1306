package convert

// Source is where a conversion reads its image from. It is one of
// PathSource, BytesSource or EncodedSource.
type Source interface {
	isSource()
}

// PathSource reads the image from the local filesystem.
type PathSource struct {
	Path string
}

// BytesSource carries raw image bytes. Filename is only used to infer
// the format and to name generated outputs.
type BytesSource struct {
	Data     []byte
	Filename string
}

// EncodedSource carries base64 text, optionally prefixed like a data URI
// ("data:image/png;base64,...").
type EncodedSource struct {
	Text     string
	Filename string
}

func (PathSource) isSource()    {}
func (BytesSource) isSource()   {}
func (EncodedSource) isSource() {}
