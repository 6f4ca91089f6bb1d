package utils

import (
	"github.com/denisbrodbeck/machineid"
)

// HWID is an app-scoped, hashed machine identifier. Empty if the platform
// does not expose one.
var HWID = deviceID()

func deviceID() string {
	id, err := machineid.ProtectedID("dropsync")
	if err != nil {
		return ""
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
