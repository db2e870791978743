package model

// DeviceSlotLimit caps concurrent registered playback devices per user.
const DeviceSlotLimit = 2
