package cmn

import "fmt"

// Object-store URI schemes an archive destination (ktest/archive's upload
// target) may use, mirrored from the teacher's own provider-scheme
// switch (cmn/bucket.go's S3Scheme/AZScheme/GSScheme constants) but pared
// down to just the three backends ktest/archive wires: no AIS-native
// provider, HDFS or HTTP backend exists in this domain.
const (
	S3Scheme = "s3"
	AZScheme = "az"
	GSScheme = "gs"
)

// ErrUnsupportedScheme reports a destination URI whose scheme isn't one of
// the three wired object-store backends.
type ErrUnsupportedScheme struct{ Scheme string }

func (e *ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("unsupported archive destination scheme %q (want s3, az or gs)", e.Scheme)
}

// NormalizeScheme validates scheme against the three wired backends.
func NormalizeScheme(scheme string) (string, error) {
	switch scheme {
	case S3Scheme, AZScheme, GSScheme:
		return scheme, nil
	default:
		return "", &ErrUnsupportedScheme{Scheme: scheme}
	}
}
