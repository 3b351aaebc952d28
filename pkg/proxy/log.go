package proxy

import "github.com/inconshreveable/log15"

// log writes through the log15 root handler. Programs embedding this package
// choose where records go, and at which level, with log15.Root().SetHandler.
var log = log15.New("module", "proxy")
