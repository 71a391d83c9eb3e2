package model

import "time"

// Program - собранная программа, готовая к передаче исполнителю.
type Program struct {
	// SceneName - имя класса сцены, которую нужно отрендерить.
	SceneName string `json:"scene_name"`
	// FileName - имя файла скрипта (без каталога).
	FileName string `json:"file_name"`
	Source   string `json:"source"`
}

// ExecutionResult - результат исполнения программы.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	Diagnostic string `json:"diagnostic,omitempty"`
	// ArtifactRef - ссылка на результат (путь к видеофайлу) при успехе.
	ArtifactRef string        `json:"artifact_ref,omitempty"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	Duration    time.Duration `json:"duration"`
	// Attempts заполняется контроллером повторов.
	Attempts int `json:"attempts"`
}
