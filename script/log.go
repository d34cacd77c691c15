package script

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ifps.script")
