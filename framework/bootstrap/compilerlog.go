package bootstrap

import (
	"bytes"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/km-arc/go-container/framework/builder"
)

// compilerLog renders the pass log, warnings and deprecations of b as JSON
// lines.
func compilerLog(b *builder.Builder, class string) []byte {
	var buf bytes.Buffer
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	l := zap.New(core).With(zap.String("class", class))

	for _, line := range b.LogLines() {
		l.Debug(line, zap.String("kind", "pass"))
	}
	for _, w := range b.Warnings() {
		l.Warn(w, zap.String("kind", "warning"))
	}
	for _, d := range b.Deprecations() {
		l.Info(d, zap.String("kind", "deprecation"))
	}
	_ = l.Sync()
	return buf.Bytes()
}
