package chunk

// fileHeaderFixedBytes is the size of the FileHeader chunk's own
// additional header fields (major, minor, reserved16) ahead of the
// variable-length identifier string.
const fileHeaderFixedBytes = 4

// FileHeader is the container's identifying chunk, always stored at
// file index 0.
type FileHeader struct {
	Header *Header
	Index  FileIndex
}

// NewFileHeader builds a FileHeader carrying identifier and the given
// version, sized to hold the identifier string.
func NewFileHeader(index FileIndex, major, minor uint8, identifier string) *FileHeader {
	h := NewHeader(uint(fileHeaderFixedBytes + len(identifier)))
	h.SetType(FileHeader)
	h.SetNumberValidBytes(h.AdditionalHeaderSizeBytes(), false)

	additional := h.AdditionalHeader()
	additional[0] = major
	additional[1] = minor
	additional[2] = 0
	additional[3] = 0
	copy(additional[fileHeaderFixedBytes:], identifier)

	return &FileHeader{Header: h, Index: index}
}

// LoadFileHeader prepares a FileHeader for Load, sizing its buffer
// from an already-decoded common header.
func LoadFileHeader(index FileIndex, commonHeader [MinimumHeaderSizeBytes]byte) *FileHeader {
	return &FileHeader{Header: LoadSized(commonHeader), Index: index}
}

// Load reads this chunk's header (including the common 4 bytes) from
// device.
func (c *FileHeader) Load(device Device) error {
	return LoadHeader(device, c.Index, c.Header, true)
}

// Save recomputes the CRC and writes this chunk, padding the
// remainder of the chunk with output from padder.
func (c *FileHeader) Save(device Device, padder *Padder) error {
	c.Header.SetCRC(c.Header.InitializeCRC())
	return SaveHeader(device, c.Index, c.Header, padder, true)
}

// CheckCRC reports whether the stored CRC matches the header content.
func (c *FileHeader) CheckCRC() bool {
	return c.Header.CRC() == c.Header.InitializeCRC()
}

// MajorVersion returns the container's recorded major version.
func (c *FileHeader) MajorVersion() uint8 { return c.Header.AdditionalHeader()[0] }

// MinorVersion returns the container's recorded minor version.
func (c *FileHeader) MinorVersion() uint8 { return c.Header.AdditionalHeader()[1] }

// Identifier returns the container's magic identifier string.
func (c *FileHeader) Identifier() string {
	validBytes := c.Header.NumberValidBytes()
	if validBytes <= fileHeaderFixedBytes {
		return ""
	}
	additional := c.Header.AdditionalHeader()
	end := fileHeaderFixedBytes + (validBytes - fileHeaderFixedBytes)
	if int(end) > len(additional) {
		end = uint(len(additional))
	}
	return string(additional[fileHeaderFixedBytes:end])
}

// IsValid reports whether this chunk's identifier and version match
// expectedIdentifier and (major, minor) exactly.
func (c *FileHeader) IsValid(expectedIdentifier string, major, minor uint8) bool {
	return c.Identifier() == expectedIdentifier && c.MajorVersion() == major && c.MinorVersion() == minor
}
