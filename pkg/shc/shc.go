// Package shc はSMART Health Cardの外側のエンコードを扱う。
//
// QRの数値エンコード（shc:/...）、コンパクトJWSの分割、zip=DEF の
// raw DEFLATE 展開のみを担い、署名検証やペイロードの解釈は行わない。
package shc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

// QRPrefix はSMART Health CardのQRペイロードの接頭辞。
const QRPrefix = "shc:/"

// ZipDeflate はペイロードがraw DEFLATEで圧縮されていることを示すzipヘッダ値。
const ZipDeflate = "DEF"

// maxInflatedSize は展開後ペイロードの上限。
const maxInflatedSize = 1 << 20

// ErrMalformed は入力がSMART Health Cardとして解釈できない場合のエラー。
var ErrMalformed = errors.New("malformed health card")

// Header はJWSヘッダ。
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Zip       string `json:"zip,omitempty"`
}

// JWS は分割済みのコンパクトJWS。
type JWS struct {
	Header       Header
	SigningInput string
	Payload      []byte // base64url復号済み。zip=DEF の場合は圧縮されたまま
	Signature    []byte
}

// DecodeQR は shc:/ で始まる数値エンコードをコンパクトJWSに戻す。
// 2桁ずつ読み、各値に45を加えた文字に変換する。
func DecodeQR(qr string) (string, error) {
	data, ok := strings.CutPrefix(strings.TrimSpace(qr), QRPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %s prefix", ErrMalformed, QRPrefix)
	}
	if len(data) == 0 || len(data)%2 != 0 {
		return "", fmt.Errorf("%w: numeric data length must be even", ErrMalformed)
	}

	var b strings.Builder
	b.Grow(len(data) / 2)
	for i := 0; i < len(data); i += 2 {
		n, err := strconv.Atoi(data[i : i+2])
		if err != nil || n < 0 || n > 'z'-45 {
			return "", fmt.Errorf("%w: invalid numeric chunk %q", ErrMalformed, data[i:i+2])
		}
		b.WriteByte(byte(n + 45))
	}
	return b.String(), nil
}

// EncodeQR はコンパクトJWSを shc:/ の数値エンコードに変換する。
func EncodeQR(compact string) string {
	var b strings.Builder
	b.Grow(len(QRPrefix) + len(compact)*2)
	b.WriteString(QRPrefix)
	for i := 0; i < len(compact); i++ {
		fmt.Fprintf(&b, "%02d", int(compact[i])-45)
	}
	return b.String()
}

// Parse はコンパクトJWSを分割し、ヘッダを解釈する。
func Parse(compact string) (*JWS, error) {
	parts := strings.Split(strings.TrimSpace(compact), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding: %v", ErrMalformed, err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding: %v", ErrMalformed, err)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", ErrMalformed, err)
	}

	return &JWS{
		Header:       header,
		SigningInput: parts[0] + "." + parts[1],
		Payload:      payload,
		Signature:    signature,
	}, nil
}

// Body はヘッダの zip に従ってペイロードを展開して返す。
func (j *JWS) Body() ([]byte, error) {
	switch j.Header.Zip {
	case "":
		return j.Payload, nil
	case ZipDeflate:
		return Inflate(j.Payload)
	default:
		return nil, fmt.Errorf("%w: unsupported zip %q", ErrMalformed, j.Header.Zip)
	}
}

// Inflate はraw DEFLATE（zlibヘッダなし）を展開する。
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrMalformed, err)
	}
	if len(out) > maxInflatedSize {
		return nil, fmt.Errorf("%w: inflated payload too large", ErrMalformed)
	}
	return out, nil
}

// Deflate はraw DEFLATEで圧縮する。
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
