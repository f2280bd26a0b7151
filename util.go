package objstore

import (
	"encoding/hex"
	"log/slog"
)

// firstErr keeps the original failure when cleanup fails too.
func firstErr(err, cleanupErr error) error {
	if err != nil {
		return err
	}
	return cleanupErr
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}

func addrAttr(key string, a Address) slog.Attr {
	return slog.Uint64(key, uint64(a))
}
