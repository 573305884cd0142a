package scheduler

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// InferNameFromFunc names a callback after its function. Method values lose
// their receiver and the compiler's "-fm" suffix.
func InferNameFromFunc(f any) string {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		log.Warn().Msgf("Expected a function, got: %s", v.Kind())
		return "unknown"
	}

	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		log.Warn().Msgf("Could not retrieve function pointer for: %s", v.Type().String())
		return "unknown"
	}

	name := strings.TrimSuffix(fn.Name(), "-fm")
	return name[strings.LastIndex(name, ".")+1:]
}
