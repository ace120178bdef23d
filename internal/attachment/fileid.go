// Package attachment maps protocol attachment pointers to opaque file ids
// and resolves file ids to local files, downloading at most once per path.
package attachment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatbridge/internal/protocol"
)

// FileIDVersion is the current file id schema version.
const FileIDVersion = 1

var (
	ErrVersionMismatch = errors.New("file id version mismatch")
	ErrMalformed       = errors.New("malformed file id")
	ErrNoLocator       = errors.New("attachment has no remote locator")
)

// FileID is the serialized form of an attachment. It is persisted with the
// message and must round-trip bit-exact.
type FileID struct {
	Version       int    `json:"version"`
	TargetPath    string `json:"target_path"`
	URL           string `json:"url,omitempty"`
	CdnID         uint64 `json:"cdn_id,omitempty"`
	CdnKey        string `json:"cdn_key,omitempty"`
	CdnNumber     uint32 `json:"cdn_number,omitempty"`
	MediaType     string `json:"media_type,omitempty"`
	Key           []byte `json:"key,omitempty"`
	Digest        []byte `json:"digest,omitempty"`
	PlaintextHash []byte `json:"plaintext_hash,omitempty"`
	Size          uint64 `json:"size,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
}

// Encode returns the file id for ptr stored at targetPath.
func Encode(ptr *protocol.AttachmentPointer, targetPath string) (string, error) {
	if !ptr.HasLocator() {
		return "", ErrNoLocator
	}
	data, err := json.Marshal(FileID{
		Version:       FileIDVersion,
		TargetPath:    targetPath,
		URL:           ptr.URL,
		CdnID:         ptr.CdnID,
		CdnKey:        ptr.CdnKey,
		CdnNumber:     ptr.CdnNumber,
		MediaType:     ptr.MediaType,
		Key:           ptr.Key,
		Digest:        ptr.Digest,
		PlaintextHash: ptr.PlaintextHash,
		Size:          ptr.Size,
		ContentType:   ptr.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("encode file id: %w", err)
	}
	return string(data), nil
}

// IdentifierFor is Encode that returns "" on failure.
func IdentifierFor(ptr *protocol.AttachmentPointer, targetPath string) string {
	id, err := Encode(ptr, targetPath)
	if err != nil {
		return ""
	}
	return id
}

// Decode parses a file id. Ids of any other version are rejected.
func Decode(id string) (*FileID, error) {
	var fid FileID
	if err := json.Unmarshal([]byte(id), &fid); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fid.Version != FileIDVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, fid.Version, FileIDVersion)
	}
	if fid.TargetPath == "" {
		return nil, fmt.Errorf("%w: empty target path", ErrMalformed)
	}
	return &fid, nil
}

// Pointer returns the attachment pointer embedded in the id.
func (f *FileID) Pointer() *protocol.AttachmentPointer {
	return &protocol.AttachmentPointer{
		URL:           f.URL,
		CdnID:         f.CdnID,
		CdnKey:        f.CdnKey,
		CdnNumber:     f.CdnNumber,
		MediaType:     f.MediaType,
		Key:           f.Key,
		Digest:        f.Digest,
		PlaintextHash: f.PlaintextHash,
		Size:          f.Size,
		ContentType:   f.ContentType,
	}
}
