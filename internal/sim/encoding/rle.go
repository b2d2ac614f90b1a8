package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes grid states into base64(varint pairs).
// The pairs are (value, run_len) repeated.
func EncodeRLE(state []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(state) {
		v := state[i]
		run := 1
		for j := i + 1; j < len(state) && state[j] == v; j++ {
			run++
		}

		buf.WriteByte(v)
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// MaxCells bounds the output of an unchecked DecodeRLE.
const MaxCells = 1 << 26

// DecodeRLE reverses EncodeRLE. want, when positive, is the expected cell
// count; a mismatch is an error. Otherwise at most MaxCells are decoded.
func DecodeRLE(b64 string, want int) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	limit := MaxCells
	if want > 0 {
		limit = want
	}
	out := make([]uint8, 0, max(want, 0))
	for i := 0; i < len(raw); {
		v := raw[i]
		i++
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run > uint64(limit-len(out)) {
			return nil, fmt.Errorf("run overflows %d cells", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, v)
		}
	}
	if want > 0 && len(out) != want {
		return nil, fmt.Errorf("decoded %d cells, want %d", len(out), want)
	}
	return out, nil
}
