package blte

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk describes one planned frame: its plaintext size and encoding mode.
type Chunk struct {
	Size int
	Mode Mode
}

// ESpec is a parsed encoding specification string, e.g. "z", "n", or
// "b:{1M*,z}" (spec.md §4.2). It describes how a plaintext byte stream is
// split into frames and which mode encodes each frame.
type ESpec struct {
	raw string

	// single holds the mode for a bare "n"/"z" spec: the whole plaintext
	// is one frame in that mode.
	single    Mode
	hasSingle bool

	// blockSize/blockMode/blockCount describe a "b:{SIZE[*[COUNT]],MODE}"
	// schedule: blockCount fixed-size blocks of blockSize, each encoded
	// with blockMode; if blockCount is 0 the block repeats until the
	// plaintext is exhausted (the trailing "*" in spec.md's
	// "{fixed_size × count, …, *}" notation).
	blockSize  int
	blockMode  Mode
	blockCount int
}

// String returns the original spec text.
func (e ESpec) String() string { return e.raw }

// Raw returns the original ESpec text, the form interned by the encoding
// table's string pool (spec.md §3).
func (e ESpec) Raw() string { return e.raw }

// ParseESpec parses an encoding specification string.
func ParseESpec(s string) (ESpec, error) {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "n":
		return ESpec{raw: s, single: ModeRaw, hasSingle: true}, nil
	case "z":
		return ESpec{raw: s, single: ModeZlib, hasSingle: true}, nil
	}
	if !strings.HasPrefix(trimmed, "b:{") || !strings.HasSuffix(trimmed, "}") {
		return ESpec{}, fmt.Errorf("blte: unrecognized espec %q", s)
	}
	body := trimmed[len("b:{") : len(trimmed)-1]
	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return ESpec{}, fmt.Errorf("blte: unsupported block espec %q (want SIZE[*COUNT],MODE)", s)
	}
	sizeTok := strings.TrimSpace(parts[0])
	modeTok := strings.TrimSpace(parts[1])
	mode, err := parseModeToken(modeTok)
	if err != nil {
		return ESpec{}, fmt.Errorf("blte: espec %q: %w", s, err)
	}

	count := 0 // 0 == repeat until exhausted
	star := strings.IndexByte(sizeTok, '*')
	sizePart := sizeTok
	if star >= 0 {
		sizePart = sizeTok[:star]
		countPart := sizeTok[star+1:]
		if countPart != "" {
			c, err := strconv.Atoi(countPart)
			if err != nil {
				return ESpec{}, fmt.Errorf("blte: espec %q: bad repeat count: %w", s, err)
			}
			count = c
		}
	}
	size, err := parseSizeToken(sizePart)
	if err != nil {
		return ESpec{}, fmt.Errorf("blte: espec %q: %w", s, err)
	}
	return ESpec{
		raw:        s,
		blockSize:  size,
		blockMode:  mode,
		blockCount: count,
	}, nil
}

func parseModeToken(tok string) (Mode, error) {
	switch tok {
	case "n":
		return ModeRaw, nil
	case "z":
		return ModeZlib, nil
	default:
		return 0, fmt.Errorf("unsupported mode token %q", tok)
	}
}

func parseSizeToken(tok string) (int, error) {
	mult := 1
	switch {
	case strings.HasSuffix(tok, "M"):
		mult = 1 << 20
		tok = tok[:len(tok)-1]
	case strings.HasSuffix(tok, "K"):
		mult = 1 << 10
		tok = tok[:len(tok)-1]
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", tok, err)
	}
	return n * mult, nil
}

// Plan computes the frame schedule for a plaintext of length plainLen.
func (e ESpec) Plan(plainLen int) []Chunk {
	if e.hasSingle {
		return []Chunk{{Size: plainLen, Mode: e.single}}
	}
	var chunks []Chunk
	remaining := plainLen
	emitted := 0
	for remaining > 0 && (e.blockCount == 0 || emitted < e.blockCount) {
		n := e.blockSize
		if n > remaining {
			n = remaining
		}
		chunks = append(chunks, Chunk{Size: n, Mode: e.blockMode})
		remaining -= n
		emitted++
	}
	if remaining > 0 {
		// Fixed count schedule didn't cover the whole plaintext: the
		// remainder still needs to go out, using the same block mode.
		chunks = append(chunks, Chunk{Size: remaining, Mode: e.blockMode})
	}
	if len(chunks) == 0 {
		// Zero-length plaintext still needs one (empty) frame.
		chunks = append(chunks, Chunk{Size: 0, Mode: e.blockMode})
	}
	return chunks
}

// DefaultESpec implements spec.md §4.2's "Default policy": a single zlib
// frame for plaintexts under 1MiB, otherwise 1MiB zlib blocks.
func DefaultESpec(plainLen int) ESpec {
	const oneMiB = 1 << 20
	if plainLen < oneMiB {
		return ESpec{raw: "z", single: ModeZlib, hasSingle: true}
	}
	return ESpec{raw: "b:{1M*,z}", blockSize: oneMiB, blockMode: ModeZlib}
}
