package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hearthd/hearth/pkg/security"
	"github.com/hearthd/hearth/pkg/types"
)

// CompressThreshold is the serialised size above which payloads are
// compressed before encryption.
const CompressThreshold = 2 << 20

// sealBundle serialises a bundle into a sync envelope. With a box, the
// bundle travels as ciphertext, gzip-compressed first when large; without
// one it travels in the clear.
func sealBundle(box *security.Box, user string, bundle *types.ContextBundle) (types.SyncEnvelope, error) {
	envelope := types.SyncEnvelope{User: user, TS: time.Now().UTC()}

	if box == nil {
		envelope.Bundle = bundle
		return envelope, nil
	}

	plain, err := json.Marshal(bundle)
	if err != nil {
		return envelope, err
	}
	if len(plain) > CompressThreshold {
		plain, err = gzipBytes(plain)
		if err != nil {
			return envelope, err
		}
		envelope.Compressed = true
	}

	sealed, err := box.Seal(plain)
	if err != nil {
		return envelope, err
	}
	envelope.Ciphertext = base64.StdEncoding.EncodeToString(sealed)
	return envelope, nil
}

// openBundle reverses sealBundle. A ciphertext envelope without a local key,
// or one sealed with a different key, fails with security.ErrDecryptFailed
// and never yields partial plaintext.
func openBundle(box *security.Box, envelope *types.SyncEnvelope) (*types.ContextBundle, error) {
	if envelope.Ciphertext == "" {
		return envelope.Bundle, nil
	}
	if box == nil {
		return nil, fmt.Errorf("%w: peer sent ciphertext but no shared key is loaded", security.ErrDecryptFailed)
	}

	sealed, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrDecryptFailed, err)
	}
	plain, err := box.Open(sealed)
	if err != nil {
		return nil, err
	}
	if envelope.Compressed {
		plain, err = gunzipBytes(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", security.ErrDecryptFailed, err)
		}
	}

	var bundle types.ContextBundle
	if err := json.Unmarshal(plain, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrDecryptFailed, err)
	}
	return &bundle, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
