package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "burnbox",
	Level: hclog.LevelFromString("DEBUG"),
})
