package wechat

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// verifySignature checks the provider's SHA-1 signature scheme: the token,
// timestamp, nonce, and any extra parts are sorted lexically, joined, and
// hashed.
func verifySignature(token, timestamp, nonce, signature string, extra ...string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	parts := append([]string{token, timestamp, nonce}, extra...)
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:]) == strings.ToLower(signature)
}

// msgCrypto implements the provider's AES-CBC message encryption: the
// 43-character EncodingAESKey base64-decodes (with one pad char) to a
// 32-byte key, the IV is its first block, and the plaintext layout is
// 16 random bytes, a big-endian length, the XML body, and the app id.
type msgCrypto struct {
	appID string
	key   []byte
}

func newMsgCrypto(appID, encodingAESKey string) (*msgCrypto, error) {
	encodingAESKey = strings.TrimSpace(encodingAESKey)
	if len(encodingAESKey) != 43 {
		return nil, fmt.Errorf("encoding aes key must be 43 characters, got %d", len(encodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key decodes to %d bytes, want 32", len(key))
	}
	return &msgCrypto{appID: appID, key: key}, nil
}

func (c *msgCrypto) decrypt(encrypted string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a block multiple", len(ciphertext))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, ciphertext)
	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, fmt.Errorf("decrypted payload too short")
	}
	msgLen := binary.BigEndian.Uint32(plain[16:20])
	if int(msgLen) > len(plain)-20 {
		return nil, fmt.Errorf("decrypted length field out of range")
	}
	body := plain[20 : 20+msgLen]
	appID := string(plain[20+msgLen:])
	if c.appID != "" && appID != c.appID {
		return nil, fmt.Errorf("app id mismatch in decrypted payload")
	}
	return body, nil
}

func (c *msgCrypto) encrypt(plainBody []byte) (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("random prefix: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(plainBody)))

	buf := bytes.NewBuffer(random)
	buf.Write(length[:])
	buf.Write(plainBody)
	buf.WriteString(c.appID)
	plain := pkcs7Pad(buf.Bytes(), 32)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(ciphertext, plain)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// encryptEnvelope wraps an encrypted reply in the signed response
// envelope the provider expects in safe mode.
func (c *msgCrypto) encryptEnvelope(token string, plainReply []byte) ([]byte, error) {
	encrypted, err := c.encrypt(plainReply)
	if err != nil {
		return nil, fmt.Errorf("encrypt reply: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	parts := []string{token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))

	return xml.Marshal(xmlEncryptedEnvelope{
		Encrypt:      cdata{encrypted},
		MsgSignature: cdata{hex.EncodeToString(sum[:])},
		TimeStamp:    timestamp,
		Nonce:        cdata{nonce},
	})
}

func randomNonce() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("random nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	if padding == 0 {
		padding = blockSize
	}
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded payload")
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > 32 || padding > len(data) {
		return nil, fmt.Errorf("invalid pkcs7 padding")
	}
	return data[:len(data)-padding], nil
}
