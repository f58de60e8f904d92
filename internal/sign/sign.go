// Package sign produces signed tile URLs for the two content families.
// SUHA URLs are signed in-process with a time-bucketed MD5 scheme; SUFA
// delegates to the external get_USFA.js helper, which is treated as a
// black-box command.
package sign

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quanku-art/tile-harvester/internal/model"
)

// cagHostConstant is the fixed salt mixed into every SUHA signature.
const cagHostConstant = "b49b4d8a45b8f098ba881d98abbb5c892f8b5c98"

// bucketSeconds is the width of the signing time bucket, in seconds.
const bucketSeconds = 31_536_000

var tileURLPattern = regexp.MustCompile(`(?i)^(http.*//[^/]*)(/.*\.(?:jpg|jpeg))\?*(.*)$`)

// percentEncodeSafe are the characters left unescaped when hashing the
// path component.
const percentEncodeSafe = ":/@&=+$,-_.!~*'()#"

// Signer signs tile URLs, dispatching to the external helper for SUFA.
type Signer struct {
	// HelperPath is the script invoked for SUFA signing. Defaults to
	// "utils/get_USFA.js" when empty.
	HelperPath string
}

// New builds a Signer using the default helper path.
func New() *Signer {
	return &Signer{HelperPath: "utils/get_USFA.js"}
}

// Sign produces the signed URL for rawURL under family, at the given
// instant (so tests can pin the time bucket deterministically).
func (s *Signer) Sign(ctx context.Context, rawURL string, family model.Family, now time.Time) (string, error) {
	if family == model.SUFA {
		return s.signSUFA(ctx, rawURL)
	}
	return signSUHA(rawURL, now), nil
}

// signSUHA computes the inline MD5 signature. If the URL doesn't match the
// expected tile-path shape, it is returned unchanged.
func signSUHA(rawURL string, now time.Time) string {
	m := tileURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return rawURL
	}
	base, path, query := m[1], m[2], m[3]

	timestampHex := bucketHex(now)
	encodedPath := percentEncode(path)

	h := md5.Sum([]byte(cagHostConstant + encodedPath + timestampHex))
	sign := hex.EncodeToString(h[:])

	return base + path + "?" + query + "&sign=" + sign + "&t=" + timestampHex
}

// bucketHex computes hex(ceil(nowMillis / 31_536_000_000) * 31_536_000):
// nowMillis bucketed into year-scale windows, then reported in seconds.
func bucketHex(now time.Time) string {
	nowMillis := now.UnixMilli()
	bucket := int64(math.Ceil(float64(nowMillis) / float64(bucketSeconds*1000)))
	seconds := bucket * bucketSeconds
	return strconv.FormatInt(seconds, 16)
}

// percentEncode escapes everything outside percentEncodeSafe and
// alphanumerics, byte-wise with uppercase hex digits.
func percentEncode(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if isAlnum(c) || strings.IndexByte(percentEncodeSafe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// signSUFA shells out to the Node helper, substituting the cag-ac.ltfc.net
// host before signing.
func (s *Signer) signSUFA(ctx context.Context, rawURL string) (string, error) {
	substituted := strings.Replace(rawURL, "cag.ltfc.net", "cag-ac.ltfc.net", 1)

	helper := s.HelperPath
	if helper == "" {
		helper = "utils/get_USFA.js"
	}

	cmd := exec.CommandContext(ctx, "node", helper, "init", substituted)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sufa signing helper: %w (stderr: %s)", err, stderr.String())
	}

	signed := strings.TrimSpace(strings.SplitN(stdout.String(), "\n", 2)[0])
	if signed == "" {
		return "", fmt.Errorf("sufa signing helper produced no output for %s", rawURL)
	}
	return signed, nil
}
