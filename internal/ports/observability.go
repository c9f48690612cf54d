package ports

// Observer is where the controller reports logs and metrics.
type Observer interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
}

type Field struct {
	Key   string
	Value any
}

// Nop discards everything.
type Nop struct{}

func (Nop) LogInfo(string, ...Field)         {}
func (Nop) LogError(string, error, ...Field) {}
func (Nop) IncCounter(string, float64)       {}
func (Nop) SetGauge(string, float64)         {}
