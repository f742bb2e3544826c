// Package digest computes the full content identity of a regular file in one
// sequential read pass.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
)

// DefaultChunkSize is the read granularity. Digest results are independent of
// it; it only bounds memory per read.
const DefaultChunkSize = 64 * 1024

// SampleSize is how many leading and trailing bytes are kept on the content
// record.
const SampleSize = 64

// Sums holds everything one pass over the bytes produces. (Size, SHA256) is
// the content identity; the remaining digests exist for compatibility and
// verification.
type Sums struct {
	Size   int64
	SHA1   string
	SHA224 string
	SHA256 string
	SHA384 string
	SHA512 string
	MD5    string
	CRC32  string // 8 hex digits, zero-padded, unsigned
	Header []byte
	Footer []byte
}

// SumFile hashes the file at path with the default chunk size.
func SumFile(path string) (*Sums, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f, DefaultChunkSize)
}

// Sum reads r to EOF, updating every digest per chunk.
func Sum(r io.Reader, chunkSize int) (*Sums, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	hashes := []hash.Hash{
		sha1.New(),
		sha256.New224(),
		sha256.New(),
		sha512.New384(),
		sha512.New(),
		md5.New(),
	}
	var crc uint32
	var size int64
	var header []byte
	footer := make([]byte, 0, SampleSize)

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			size += int64(n)
			for _, h := range hashes {
				h.Write(chunk)
			}
			crc = crc32.Update(crc, crc32.IEEETable, chunk)

			if len(header) < SampleSize {
				header = append(header, chunk[:min(len(chunk), SampleSize-len(header))]...)
			}
			footer = appendTail(footer, chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &Sums{
		Size:   size,
		SHA1:   hex.EncodeToString(hashes[0].Sum(nil)),
		SHA224: hex.EncodeToString(hashes[1].Sum(nil)),
		SHA256: hex.EncodeToString(hashes[2].Sum(nil)),
		SHA384: hex.EncodeToString(hashes[3].Sum(nil)),
		SHA512: hex.EncodeToString(hashes[4].Sum(nil)),
		MD5:    hex.EncodeToString(hashes[5].Sum(nil)),
		CRC32:  fmt.Sprintf("%08x", crc),
		Header: header,
		Footer: footer,
	}, nil
}

// appendTail keeps the last SampleSize bytes seen so far.
func appendTail(tail, chunk []byte) []byte {
	if len(chunk) >= SampleSize {
		return append(tail[:0], chunk[len(chunk)-SampleSize:]...)
	}
	keep := SampleSize - len(chunk)
	if len(tail) > keep {
		tail = append(tail[:0], tail[len(tail)-keep:]...)
	}
	return append(tail, chunk...)
}
