/*
Package security provides symmetric encryption and bearer-token utilities
for the Hearth suite.

# Core Components

Box:
  - AES-256-GCM authenticated encryption with a fixed 32-byte key
  - Seal/Open for raw bytes, SealString/OpenString for base64 text
  - Wrong key or tampered data returns ErrDecryptFailed, never plaintext

Key files:
  - data/keys/wrapper.key — wraps secret config values at rest
  - data/keys/shared.key — shared with the cloud peer for payload encryption
  - LoadOrCreateKey generates a random key on first boot (0600/0700 perms)
  - Private material is never synced off the host

Tokens:
  - GenerateToken: 32 random bytes, hex-encoded, persisted on first boot
  - TokenEqual: constant-time comparison used by the HTTP auth middleware
  - The suite token and the cloud peer token are distinct trust boundaries;
    configure them separately

# Usage

	key, err := security.LoadOrCreateKey(filepath.Join(dataDir, "keys", security.WrapperKeyFile))
	box, err := security.NewBox(key)
	sealed, err := box.SealString(apiKey)
	plain, err := box.OpenString(sealed)

# Integration Points

  - pkg/config wraps secret paths with the wrapper-key Box
  - pkg/bridge encrypts sync payloads with the shared-key Box
  - pkg/api validates Authorization headers with TokenEqual
*/
package security
