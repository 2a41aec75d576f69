// Package whisperbin handles the model prelude of whisper ggml .bin files:
// everything before the tensor stream (magic, hyperparameters, mel
// filterbank, vocabulary).
package whisperbin

import (
	"errors"
	"fmt"

	"github.com/lhpqaq/ggmlquant/internal/ggml"
)

var ErrBadMagic = errors.New("whisperbin: invalid model file (bad magic)")

// Hparams are the whisper model hyperparameters stored in the file header.
type Hparams struct {
	NVocab      int32
	NAudioCtx   int32
	NAudioState int32
	NAudioHead  int32
	NAudioLayer int32
	NTextCtx    int32
	NTextState  int32
	NTextHead   int32
	NTextLayer  int32
	NMels       int32
	FType       int32
}

// QntVersion extracts the quantization version encoded in the ftype field.
func (h Hparams) QntVersion() int32 {
	return h.FType / ggml.QntVersionFactor
}

// DefaultSkip lists tensors that must never be quantized: small bias and
// positional embedding tensors whose precision loss is not worth the bytes.
func DefaultSkip() []string {
	return []string{
		"encoder.conv1.bias",
		"encoder.conv2.bias",
		"encoder.positional_embedding",
		"decoder.positional_embedding",
	}
}

// ReadMagic consumes and validates the file magic.
func ReadMagic(r *ggml.Reader) error {
	magic, err := r.ReadU32()
	if err != nil {
		return err
	}
	if magic != ggml.FileMagic {
		return ErrBadMagic
	}
	return nil
}

// ReadHparams consumes the hyperparameter block.
func ReadHparams(r *ggml.Reader) (Hparams, error) {
	var h Hparams
	for _, dst := range []*int32{
		&h.NVocab, &h.NAudioCtx, &h.NAudioState, &h.NAudioHead, &h.NAudioLayer,
		&h.NTextCtx, &h.NTextState, &h.NTextHead, &h.NTextLayer, &h.NMels,
		&h.FType,
	} {
		v, err := r.ReadI32()
		if err != nil {
			return Hparams{}, fmt.Errorf("read hparams: %w", err)
		}
		*dst = v
	}
	return h, nil
}

func writeHparams(w *ggml.Writer, h Hparams, ftype int32) error {
	for _, v := range []int32{
		h.NVocab, h.NAudioCtx, h.NAudioState, h.NAudioHead, h.NAudioLayer,
		h.NTextCtx, h.NTextState, h.NTextHead, h.NTextLayer, h.NMels,
		ftype,
	} {
		if err := w.WriteI32(v); err != nil {
			return err
		}
	}
	return nil
}

// CopyPrelude validates the magic, copies hyperparameters, mel filterbank
// and vocabulary from r to w, rewriting the destination ftype. When mixed
// is set the header advertises f16 so loaders size every tensor buffer for
// the widest type that may appear.
func CopyPrelude(r *ggml.Reader, w *ggml.Writer, target ggml.FileType, mixed bool) (Hparams, error) {
	if err := ReadMagic(r); err != nil {
		return Hparams{}, err
	}
	if err := w.WriteU32(ggml.FileMagic); err != nil {
		return Hparams{}, err
	}

	h, err := ReadHparams(r)
	if err != nil {
		return Hparams{}, err
	}
	alloc := int32(target)
	if mixed {
		alloc = int32(ggml.FileTypeMostlyF16)
	}
	ftypeDst := ggml.QntVersion*ggml.QntVersionFactor + alloc
	if err := writeHparams(w, h, ftypeDst); err != nil {
		return Hparams{}, err
	}

	if err := copyFilters(r, w); err != nil {
		return Hparams{}, err
	}
	if err := copyVocab(r, w); err != nil {
		return Hparams{}, err
	}
	return h, nil
}

// SkipPrelude validates the magic, reads the hyperparameters and discards
// the mel filterbank and vocabulary, leaving r positioned at the first
// tensor header. It returns the hyperparameters and the vocab entry count.
func SkipPrelude(r *ggml.Reader) (Hparams, int, error) {
	if err := ReadMagic(r); err != nil {
		return Hparams{}, 0, err
	}
	h, err := ReadHparams(r)
	if err != nil {
		return Hparams{}, 0, err
	}

	nMel, err := r.ReadI32()
	if err != nil {
		return Hparams{}, 0, fmt.Errorf("read filters: %w", err)
	}
	nFFT, err := r.ReadI32()
	if err != nil {
		return Hparams{}, 0, fmt.Errorf("read filters: %w", err)
	}
	if nMel < 0 || nFFT < 0 {
		return Hparams{}, 0, fmt.Errorf("invalid filterbank dims %dx%d", nMel, nFFT)
	}
	if err := r.Skip(int64(nMel) * int64(nFFT) * 4); err != nil {
		return Hparams{}, 0, fmt.Errorf("read filters: %w", err)
	}

	nVocab, err := r.ReadI32()
	if err != nil {
		return Hparams{}, 0, fmt.Errorf("read vocab: %w", err)
	}
	for i := int32(0); i < nVocab; i++ {
		length, err := r.ReadU32()
		if err != nil {
			return Hparams{}, 0, fmt.Errorf("read vocab token %d: %w", i, err)
		}
		if err := r.Skip(int64(length)); err != nil {
			return Hparams{}, 0, fmt.Errorf("read vocab token %d: %w", i, err)
		}
	}
	return h, int(nVocab), nil
}

// copyFilters passes the mel filterbank through unchanged.
func copyFilters(r *ggml.Reader, w *ggml.Writer) error {
	nMel, err := r.ReadI32()
	if err != nil {
		return fmt.Errorf("read filters: %w", err)
	}
	nFFT, err := r.ReadI32()
	if err != nil {
		return fmt.Errorf("read filters: %w", err)
	}
	if nMel < 0 || nFFT < 0 {
		return fmt.Errorf("invalid filterbank dims %dx%d", nMel, nFFT)
	}
	if err := w.WriteI32(nMel); err != nil {
		return err
	}
	if err := w.WriteI32(nFFT); err != nil {
		return err
	}
	data, err := r.ReadBytes(int(nMel) * int(nFFT) * 4)
	if err != nil {
		return fmt.Errorf("read filters: %w", err)
	}
	return w.WriteBytes(data)
}

// copyVocab passes the vocabulary through unchanged.
func copyVocab(r *ggml.Reader, w *ggml.Writer) error {
	n, err := r.ReadI32()
	if err != nil {
		return fmt.Errorf("read vocab: %w", err)
	}
	if err := w.WriteI32(n); err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		length, err := r.ReadU32()
		if err != nil {
			return fmt.Errorf("read vocab token %d: %w", i, err)
		}
		if err := w.WriteU32(length); err != nil {
			return err
		}
		word, err := r.ReadBytes(int(length))
		if err != nil {
			return fmt.Errorf("read vocab token %d: %w", i, err)
		}
		if err := w.WriteBytes(word); err != nil {
			return err
		}
	}
	return nil
}
