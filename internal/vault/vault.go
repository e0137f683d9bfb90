// Package vault implements spec §4.10/§6: the sharded on-disk archive a
// finished replay is written to. Atomic write discipline (temp file then
// rename) is adapted from nishisan-dev-n-backup's AtomicWriter
// (internal/server/storage.go); compression uses klauspost/compress/flate
// rather than the stdlib package, matching the rest of this repo's
// preference for the maintained fork.
package vault

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// Vault writes finished replay archives under a sharded directory tree
// rooted at Dir.
type Vault struct {
	Dir string
}

// New returns a Vault rooted at dir. The directory is created lazily per
// write, not here.
func New(dir string) *Vault {
	return &Vault{Dir: dir}
}

// Metadata is the JSON preamble written ahead of the compressed body, per
// spec §6 (`<json-metadata>\n<deflate(merged_bytes)>`).
type Metadata struct {
	MatchID   uint32 `json:"match_id"`
	Name      string `json:"name"`
	BodyLen   int    `json:"body_len"`
	HasHeader bool   `json:"has_header"`
}

// Path computes `<dir>/<d0>/<d1>/<d2>/<d3>/<match_id>.fafreplay` for a
// match id, per spec §6: the shard digits are the four leading digits of
// the decimal id zero-padded to at least 5 digits (so a small id like 2
// shards under 0/0/0/0, not 0/0/0/2), while the filename uses the id's
// plain, unpadded decimal form.
func (v *Vault) Path(matchID uint32) string {
	digits := fmt.Sprintf("%05d", matchID)
	return filepath.Join(v.Dir, string(digits[0]), string(digits[1]), string(digits[2]), string(digits[3]), fmt.Sprintf("%d.fafreplay", matchID))
}

// Write atomically writes meta followed by the deflate-compressed body to
// the sharded path for matchID: write to a temp file in the same shard
// directory, flush, then rename over any existing archive.
func (v *Vault) Write(matchID uint32, meta Metadata, body []byte) (path string, err error) {
	dest := v.Path(matchID)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("vault: creating shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.fafreplay")
	if err != nil {
		return "", fmt.Errorf("vault: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("vault: encoding metadata: %w", err)
	}
	if _, err = bw.Write(metaBytes); err != nil {
		return "", fmt.Errorf("vault: writing metadata: %w", err)
	}
	if err = bw.WriteByte('\n'); err != nil {
		return "", fmt.Errorf("vault: writing metadata terminator: %w", err)
	}

	fw, err := flate.NewWriter(bw, flate.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("vault: creating deflate writer: %w", err)
	}
	if _, err = fw.Write(body); err != nil {
		return "", fmt.Errorf("vault: compressing body: %w", err)
	}
	if err = fw.Close(); err != nil {
		return "", fmt.Errorf("vault: closing deflate writer: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return "", fmt.Errorf("vault: flushing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("vault: closing temp file: %w", err)
	}

	if err = os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("vault: renaming temp to final path: %w", err)
	}

	return dest, nil
}

// Read reconstructs the decompressed body from an archive written by Write,
// used by tests and any future replay-export tooling.
func (v *Vault) Read(matchID uint32) (Metadata, []byte, error) {
	f, err := os.Open(v.Path(matchID))
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("vault: opening archive: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	line, err := br.ReadString('\n')
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("vault: reading metadata line: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(line[:len(line)-1]), &meta); err != nil {
		return Metadata{}, nil, fmt.Errorf("vault: decoding metadata: %w", err)
	}

	fr := flate.NewReader(br)
	defer fr.Close()

	body := make([]byte, 0, meta.BodyLen)
	buf := make([]byte, 32*1024)
	for {
		n, err := fr.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return meta, body, nil
}
