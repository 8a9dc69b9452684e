package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var writer io.Writer = os.Stdout

func Init() {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var output io.Writer = os.Stdout
	if path := strings.TrimSpace(os.Getenv("LOG_FILE")); path != "" {
		if fw, err := newSizeLimitedWriter(path, parseLogFileMaxMB()); err == nil {
			output = fw
		} else {
			log.Error().Err(err).Str("path", path).Msg("open LOG_FILE failed, logging to stdout")
		}
	} else if isPretty(os.Getenv("LOG_PRETTY")) {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	writer = output

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if n := parseSampleEvery(); n > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(n)})
	}
	log.Logger = logger
}

// Writer returns the io.Writer Init configured, so other packages (the
// arena HTTP transport's httplog-based request logger, in particular)
// emit through the same sink as the zerolog-based application log
// instead of writing straight to os.Stdout a second time.
func Writer() io.Writer { return writer }

func isPretty(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func parseLogFileMaxMB() int {
	raw := strings.TrimSpace(os.Getenv("LOG_FILE_MAX_MB"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func parseSampleEvery() int {
	raw := strings.TrimSpace(os.Getenv("LOG_SAMPLE_EVERY"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0
	}
	return n
}
