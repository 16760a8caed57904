package reactor

import "github.com/sirupsen/logrus"

// Log is the package-wide logger, in the spirit of moby's shared
// logrus instance: callers reconfigure it (level, formatter, output)
// once at process startup instead of threading a logger through every
// constructor.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.InfoLevel)
}
