package audio

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Container 输出容器
type Container string

const (
	ContainerMPEG4 Container = "mpeg4"
	Container3GPP  Container = "3gpp"
	ContainerWAVE  Container = "wave"
	ContainerOgg   Container = "ogg"
	ContainerFLAC  Container = "flac"
)

// Encoder 音频编码器
type Encoder string

const (
	EncoderAAC   Encoder = "aac"
	EncoderAMRNB Encoder = "amr_nb"
	EncoderPCM   Encoder = "pcm_s16le"
	EncoderOpus  Encoder = "opus"
	EncoderFLAC  Encoder = "flac"
)

// Format 容器与编码器的组合
type Format struct {
	Container Container `json:"container"`
	Encoder   Encoder   `json:"encoder"`
}

func (f Format) String() string {
	return string(f.Container) + "/" + string(f.Encoder)
}

// Native 报告该格式是否由进程内编码器产生（不依赖 ffmpeg）
func (f Format) Native() bool {
	switch f.Encoder {
	case EncoderPCM, EncoderOpus, EncoderFLAC:
		return true
	}
	return false
}

// DefaultExtension 未指定格式时使用的扩展名
const DefaultExtension = "3gp"

var (
	FormatMPEG4AAC = Format{Container: ContainerMPEG4, Encoder: EncoderAAC}
	Format3GPPAMR  = Format{Container: Container3GPP, Encoder: EncoderAMRNB}
	FormatWAVE     = Format{Container: ContainerWAVE, Encoder: EncoderPCM}
	FormatFLAC     = Format{Container: ContainerFLAC, Encoder: EncoderFLAC}
	FormatOggOpus  = Format{Container: ContainerOgg, Encoder: EncoderOpus}
)

// FormatOptions 控制格式表的可选项
type FormatOptions struct {
	Strict    bool // 未知扩展名返回错误而不是回退到 3GPP/AMR-NB
	NativeWAV bool // wav 使用真正的 RIFF/WAVE 编码
	Extended  bool // 额外支持 flac / ogg / opus
}

// FormatTable 扩展名到容器/编码器的固定映射
type FormatTable struct {
	entries  map[string]Format
	fallback Format
	strict   bool
}

var validate = validator.New()

func NewFormatTable(opts FormatOptions) *FormatTable {
	// "wav" 默认仍映射到 3GPP/AMR-NB，与移动端历史行为一致
	entries := map[string]Format{
		"mp3": FormatMPEG4AAC,
		"aac": FormatMPEG4AAC,
		"wav": Format3GPPAMR,
		"3gp": Format3GPPAMR,
	}
	if opts.NativeWAV {
		entries["wav"] = FormatWAVE
	}
	if opts.Extended {
		entries["flac"] = FormatFLAC
		entries["ogg"] = FormatOggOpus
		entries["opus"] = FormatOggOpus
	}

	return &FormatTable{
		entries:  entries,
		fallback: Format3GPPAMR,
		strict:   opts.Strict,
	}
}

// ValidateExtension 扩展名只允许字母和数字，防止路径穿越
func ValidateExtension(ext string) error {
	if err := validate.Var(ext, "required,alphanum"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, ext)
	}
	return nil
}

// Lookup 返回扩展名对应的格式，区分大小写
func (t *FormatTable) Lookup(ext string) (Format, error) {
	if err := ValidateExtension(ext); err != nil {
		return Format{}, err
	}
	if f, ok := t.entries[ext]; ok {
		return f, nil
	}
	if t.strict {
		return Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return t.fallback, nil
}

// Extensions 返回显式登记的扩展名（已排序）
func (t *FormatTable) Extensions() []string {
	exts := make([]string, 0, len(t.entries))
	for ext := range t.entries {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
