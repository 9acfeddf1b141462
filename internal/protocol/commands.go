package protocol

// Outbound command lines. The control protocol is asynchronous: commands are
// fired at the write characteristic and responses, when any, arrive later as
// telemetry on the notify channels.
var (
	// CmdKeepAlive is the periodic no-op that keeps the ring out of its
	// low-power disconnect state.
	CmdKeepAlive = []byte("SYS_PING\r\n")

	// CmdActivityPoll requests the current activity/step tuple
	// (answered by a MEAS_EVT_SPORT line).
	CmdActivityPoll = []byte("GET_SPORT\r\n")

	// CmdBatteryPoll requests the battery level over the vendor channel,
	// used when the firmware exposes no standard battery characteristic.
	CmdBatteryPoll = []byte("GET_BATTERY\r\n")

	// CmdStartRealtime / CmdStopRealtime toggle high-rate measurement
	// streaming. These are acknowledged writes.
	CmdStartRealtime = []byte("START_MEAS,1\r\n")
	CmdStopRealtime  = []byte("STOP_MEAS\r\n")
)
