package csvio

import (
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"kgload/internal/errs"
)

// Fingerprint hashes the content of every path plus the extra strings (flags,
// column refs) so a transform can tell whether its inputs changed.
func Fingerprint(paths []string, extra ...string) (string, error) {
	h := xxhash.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", errs.Wrapf(err, "fingerprint %s", p)
		}
		_, _ = h.WriteString(p)
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", errs.Wrapf(err, "fingerprint %s", p)
		}
	}
	for _, s := range extra {
		_, _ = h.WriteString("\x00" + s)
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}
