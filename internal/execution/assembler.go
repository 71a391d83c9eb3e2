package execution

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"scene-forge/internal/model"
)

//go:embed shell.py.tmpl
var shellTemplate string

// Сервисы озвучки, поддерживаемые оболочкой
const (
	SpeechElevenLabs = "elevenlabs"
	SpeechGTTS       = "gtts"
)

// bodyIndent - отступ тела construct в оболочке.
const bodyIndent = "        "

// ShellConfig - параметры программной оболочки.
type ShellConfig struct {
	Speech     string `yaml:"speech" env-default:"elevenlabs"`
	VoiceID    string `yaml:"voice_id" env-default:"s3TPKV1kjDlVtZbl4Ksh"`
	VoiceModel string `yaml:"voice_model" env-default:"eleven_turbo_v2_5"`
	APIKeyEnv  string `yaml:"api_key_env" env-default:"ELEVENLABS_API_KEY"`
	Background string `yaml:"background" env-default:"#000000"`
}

// DefaultShellConfig возвращает параметры оболочки по умолчанию.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Speech:     SpeechElevenLabs,
		VoiceID:    "s3TPKV1kjDlVtZbl4Ksh",
		VoiceModel: "eleven_turbo_v2_5",
		APIKeyEnv:  "ELEVENLABS_API_KEY",
		Background: "#000000",
	}
}

// SceneFragment - санитизированный фрагмент одной сцены для сборки полной программы.
type SceneFragment struct {
	Index    int
	Title    string
	Fragment string
}

type shellScene struct {
	Number int
	Title  string
	Rule   string
	Body   string
}

type shellData struct {
	ShellConfig
	ClassName string
	Scenes    []shellScene
}

// Assembler оборачивает фрагменты в программную оболочку: импорты, класс сцены,
// сервис озвучки и имена, которые перечислены в промте синтеза.
type Assembler struct {
	cfg  ShellConfig
	tmpl *template.Template
}

// NewAssembler создает сборщик программ.
func NewAssembler(cfg ShellConfig) (*Assembler, error) {
	if cfg.Speech != SpeechElevenLabs && cfg.Speech != SpeechGTTS {
		return nil, fmt.Errorf("неизвестный сервис озвучки: '%s'", cfg.Speech)
	}
	tmpl, err := template.New("shell").Parse(shellTemplate)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора шаблона оболочки: %w", err)
	}
	return &Assembler{cfg: cfg, tmpl: tmpl}, nil
}

// Scene собирает программу одной сцены ролика.
func (a *Assembler) Scene(video model.Video, index int, fragment string) (model.Program, error) {
	if index < 0 || index >= len(video.Scenes) {
		return model.Program{}, fmt.Errorf("%w: сцена %d вне диапазона", model.ErrInvalidScene, index)
	}
	className := video.SceneClassName(index)
	src, err := a.render(className, []SceneFragment{{Index: index, Title: video.Scenes[index].Title, Fragment: fragment}})
	if err != nil {
		return model.Program{}, err
	}
	return model.Program{
		SceneName: className,
		FileName:  fmt.Sprintf("video%d_scene%d.py", video.Number, index+1),
		Source:    src,
	}, nil
}

// Video собирает полную программу ролика из фрагментов в порядке сцен.
func (a *Assembler) Video(video model.Video, fragments []SceneFragment) (model.Program, error) {
	if len(fragments) == 0 {
		return model.Program{}, fmt.Errorf("%w: нет ни одного фрагмента для видео %d", model.ErrInvalidScene, video.Number)
	}
	src, err := a.render(video.ClassName(), fragments)
	if err != nil {
		return model.Program{}, err
	}
	return model.Program{
		SceneName: video.ClassName(),
		FileName:  fmt.Sprintf("video%d.py", video.Number),
		Source:    src,
	}, nil
}

func (a *Assembler) render(className string, fragments []SceneFragment) (string, error) {
	data := shellData{ShellConfig: a.cfg, ClassName: className}
	for _, f := range fragments {
		data.Scenes = append(data.Scenes, shellScene{
			Number: f.Index + 1,
			Title:  strings.Join(strings.Fields(f.Title), " "),
			Rule:   strings.Repeat("=", 58),
			Body:   Indent(f.Fragment, bodyIndent),
		})
	}
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("ошибка сборки программы %s: %w", className, err)
	}
	return buf.String(), nil
}

// Indent добавляет отступ к каждой непустой строке.
func Indent(code, indent string) string {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n")
}
