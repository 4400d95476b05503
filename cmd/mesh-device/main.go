// mesh-device is an unprovisioned Bluetooth Mesh device.
//
// The device advertises unprovisioned device beacons and accepts PB-ADV
// provisioning. The advertising channel is emulated over UDP: every
// datagram is one advertisement.
//
// Usage:
//
//	mesh-device run [options]
//	mesh-device status --state <file>
//	mesh-device uuid
//
// Example:
//
//	mesh-device run --uuid 70cf7c97-32a3-45b6-9149-4810d2e9cbf4 --listen :5541 --peer 255.255.255.255:5542
package main

import (
	"os"

	"github.com/backkem/btmesh/cmd/mesh-device/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
