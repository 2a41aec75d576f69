package ggml

import (
	"fmt"
	"strconv"
	"strings"
)

// FileMagic identifies a legacy ggml model container ("lmgg" on disk,
// read as a little-endian uint32).
const FileMagic uint32 = 0x67676d6c

// Quantization version stamped into the header ftype field.
const (
	QntVersion       int32 = 2
	QntVersionFactor int32 = 1000
)

// TensorType is a ggml tensor data type. The numeric values follow the
// ggml_type enum so they can be written to model files verbatim.
type TensorType int32

const (
	TypeF32  TensorType = 0
	TypeF16  TensorType = 1
	TypeQ4_0 TensorType = 2
	TypeQ4_1 TensorType = 3
	TypeQ5_0 TensorType = 6
	TypeQ5_1 TensorType = 7
	TypeQ8_0 TensorType = 8
	TypeQ8_1 TensorType = 9
	TypeQ2_K TensorType = 10
	TypeQ3_K TensorType = 11
	TypeQ4_K TensorType = 12
	TypeQ5_K TensorType = 13
	TypeQ6_K TensorType = 14
	TypeQ8_K TensorType = 15
)

func (t TensorType) String() string {
	switch t {
	case TypeF32:
		return "f32"
	case TypeF16:
		return "f16"
	case TypeQ4_0:
		return "q4_0"
	case TypeQ4_1:
		return "q4_1"
	case TypeQ5_0:
		return "q5_0"
	case TypeQ5_1:
		return "q5_1"
	case TypeQ8_0:
		return "q8_0"
	case TypeQ8_1:
		return "q8_1"
	case TypeQ2_K:
		return "q2_k"
	case TypeQ3_K:
		return "q3_k"
	case TypeQ4_K:
		return "q4_k"
	case TypeQ5_K:
		return "q5_k"
	case TypeQ6_K:
		return "q6_k"
	case TypeQ8_K:
		return "q8_k"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// BlockSize returns the number of weights per quantization block.
func (t TensorType) BlockSize() int {
	switch t {
	case TypeF32, TypeF16:
		return 1
	case TypeQ4_0, TypeQ4_1, TypeQ5_0, TypeQ5_1, TypeQ8_0, TypeQ8_1:
		return 32
	case TypeQ2_K, TypeQ3_K, TypeQ4_K, TypeQ5_K, TypeQ6_K, TypeQ8_K:
		return 256
	default:
		return 0
	}
}

// TypeSize returns the on-disk size of one block in bytes.
func (t TensorType) TypeSize() int {
	switch t {
	case TypeF32:
		return 4
	case TypeF16:
		return 2
	case TypeQ4_0:
		return 2 + 16
	case TypeQ4_1:
		return 2 + 2 + 16
	case TypeQ5_0:
		return 2 + 4 + 16
	case TypeQ5_1:
		return 2 + 2 + 4 + 16
	case TypeQ8_0:
		return 2 + 32
	case TypeQ8_1:
		return 4 + 32
	case TypeQ2_K:
		return 16 + 64 + 2 + 2
	case TypeQ3_K:
		return 32 + 64 + 12 + 2
	case TypeQ4_K:
		return 2 + 2 + 12 + 128
	case TypeQ5_K:
		return 2 + 2 + 12 + 32 + 128
	case TypeQ6_K:
		return 128 + 64 + 16 + 2
	case TypeQ8_K:
		return 4 + 256 + 32
	default:
		return 0
	}
}

// RowSize returns the on-disk size of a row of ne0 weights.
// ne0 must be a multiple of BlockSize for quantized types.
func (t TensorType) RowSize(ne0 int) int {
	bs := t.BlockSize()
	if bs == 0 {
		return 0
	}
	return ne0 / bs * t.TypeSize()
}

// IsQuantized reports whether the type is a block-quantized encoding.
func (t TensorType) IsQuantized() bool {
	switch t {
	case TypeQ4_0, TypeQ4_1, TypeQ5_0, TypeQ5_1, TypeQ8_0, TypeQ8_1,
		TypeQ2_K, TypeQ3_K, TypeQ4_K, TypeQ5_K, TypeQ6_K, TypeQ8_K:
		return true
	default:
		return false
	}
}

var tensorTypeNames = map[string]TensorType{
	"q4_0": TypeQ4_0,
	"q4_1": TypeQ4_1,
	"q5_0": TypeQ5_0,
	"q5_1": TypeQ5_1,
	"q8_0": TypeQ8_0,
	"q2_k": TypeQ2_K,
	"q3_k": TypeQ3_K,
	"q4_k": TypeQ4_K,
	"q5_k": TypeQ5_K,
	"q6_k": TypeQ6_K,
	"f16":  TypeF16,
	"f32":  TypeF32,
}

// ParseTensorType resolves a type name like "q4_0" or "F16".
// The name is matched case-insensitively.
func ParseTensorType(s string) (TensorType, error) {
	t, ok := tensorTypeNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown quantization type %q", s)
	}
	return t, nil
}

// FileType is an overall model file type (the ggml_ftype enum).
type FileType int32

const (
	FileTypeUnknown        FileType = -1
	FileTypeAllF32         FileType = 0
	FileTypeMostlyF16      FileType = 1
	FileTypeMostlyQ4_0     FileType = 2
	FileTypeMostlyQ4_1     FileType = 3
	FileTypeMostlyQ4_1F16  FileType = 4
	FileTypeMostlyQ8_0     FileType = 7
	FileTypeMostlyQ5_0     FileType = 8
	FileTypeMostlyQ5_1     FileType = 9
	FileTypeMostlyQ2_K     FileType = 10
	FileTypeMostlyQ3_K     FileType = 11
	FileTypeMostlyQ4_K     FileType = 12
	FileTypeMostlyQ5_K     FileType = 13
	FileTypeMostlyQ6_K     FileType = 14
)

var fileTypeNames = map[string]FileType{
	"q4_0": FileTypeMostlyQ4_0,
	"q4_1": FileTypeMostlyQ4_1,
	"q5_0": FileTypeMostlyQ5_0,
	"q5_1": FileTypeMostlyQ5_1,
	"q8_0": FileTypeMostlyQ8_0,
	"q2_k": FileTypeMostlyQ2_K,
	"q3_k": FileTypeMostlyQ3_K,
	"q4_k": FileTypeMostlyQ4_K,
	"q5_k": FileTypeMostlyQ5_K,
	"q6_k": FileTypeMostlyQ6_K,
}

func (ft FileType) String() string {
	for name, v := range fileTypeNames {
		if v == ft {
			return name
		}
	}
	switch ft {
	case FileTypeAllF32:
		return "f32"
	case FileTypeMostlyF16:
		return "f16"
	default:
		return fmt.Sprintf("ftype(%d)", int32(ft))
	}
}

// ParseFileType resolves a target file type from a name like "q5_0" or a
// raw decimal ftype value.
func ParseFileType(s string) (FileType, error) {
	if strings.HasPrefix(strings.ToLower(s), "q") {
		ft, ok := fileTypeNames[strings.ToLower(s)]
		if !ok {
			return FileTypeUnknown, fmt.Errorf("unknown ftype %q", s)
		}
		return ft, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return FileTypeUnknown, fmt.Errorf("unknown ftype %q", s)
	}
	return FileType(n), nil
}

// TensorType returns the per-tensor quantization type implied by the file
// type, or an error for file types that are not quantization targets.
func (ft FileType) TensorType() (TensorType, error) {
	switch ft {
	case FileTypeMostlyQ4_0:
		return TypeQ4_0, nil
	case FileTypeMostlyQ4_1:
		return TypeQ4_1, nil
	case FileTypeMostlyQ5_0:
		return TypeQ5_0, nil
	case FileTypeMostlyQ5_1:
		return TypeQ5_1, nil
	case FileTypeMostlyQ8_0:
		return TypeQ8_0, nil
	case FileTypeMostlyQ2_K:
		return TypeQ2_K, nil
	case FileTypeMostlyQ3_K:
		return TypeQ3_K, nil
	case FileTypeMostlyQ4_K:
		return TypeQ4_K, nil
	case FileTypeMostlyQ5_K:
		return TypeQ5_K, nil
	case FileTypeMostlyQ6_K:
		return TypeQ6_K, nil
	default:
		return 0, fmt.Errorf("file type %s is not a quantization target", ft)
	}
}

// QuantTargets lists the tensor type names accepted by the quantizer,
// in display order.
func QuantTargets() []string {
	return []string{
		"q4_0", "q4_1", "q5_0", "q5_1", "q8_0",
		"q2_k", "q3_k", "q4_k", "q5_k", "q6_k",
		"f16", "f32",
	}
}

// FileTargets lists the ftype names accepted as a quantization target,
// in display order.
func FileTargets() []string {
	return []string{
		"q4_0", "q4_1", "q5_0", "q5_1", "q8_0",
		"q2_k", "q3_k", "q4_k", "q5_k", "q6_k",
	}
}
