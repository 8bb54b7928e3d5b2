package batcher

import "github.com/illmade-knight/go-gateway-batcher/pkg/types"

// ApplyPublishAs returns a copy of props marked batched=true and, when
// publishAs is set, carrying the override identity. A macAddress override wins;
// otherwise deviceId and deviceKey are replaced together. The input is not
// modified. Applying it twice with the same override gives the same result.
func ApplyPublishAs(props *types.Properties, publishAs *PublishAsDevice) *types.Properties {
	out := props.Clone()
	out.Set(types.PropBatched, true)

	if publishAs == nil {
		return out
	}
	switch {
	case publishAs.MacAddress != "":
		out.Set(types.PropMacAddress, publishAs.MacAddress)
	case publishAs.DeviceID != "" && publishAs.DeviceKey != "":
		out.Set(types.PropDeviceID, publishAs.DeviceID)
		out.Set(types.PropDeviceKey, publishAs.DeviceKey)
	}
	return out
}
