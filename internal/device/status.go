package device

import "fmt"

// statusTexts mirrors the PCANBasic GetErrorText strings for codes the
// gateway's own backends produce.
var statusTexts = map[Status]string{
	StatusOK:           "No error",
	StatusXmtFull:      "Transmit buffer in CAN controller is full",
	StatusOverrun:      "CAN controller was read too late",
	StatusBusLight:     "Bus error: an error counter reached the 'light' limit",
	StatusBusHeavy:     "Bus error: an error counter reached the 'heavy' limit",
	StatusBusOff:       "Bus error: the CAN controller is in bus-off state",
	StatusQrcvEmpty:    "Receive queue is empty",
	StatusQOverrun:     "Receive queue was read too late",
	StatusQXmtFull:     "Transmit queue is full",
	StatusRegTest:      "Test of the CAN controller hardware registers failed",
	StatusNoDriver:     "Driver not loaded",
	StatusHwInUse:      "Hardware already in use by a Net",
	StatusNetInUse:     "A Client is already connected to the Net",
	StatusIllHw:        "Hardware handle is invalid",
	StatusIllNet:       "Net handle is invalid",
	StatusResource:     "Resource (FIFO, Client, timeout) cannot be created",
	StatusIllParamType: "Invalid parameter",
	StatusIllParamVal:  "Invalid parameter value",
	StatusUnknown:      "Unknown error",
	StatusIllData:      "Invalid data, function, or action",
	StatusIllMode:      "Driver object state is wrong for the attempted operation",
	StatusInitialize:   "Channel is not initialized",
	StatusIllOperation: "Invalid operation",
}

// StatusText decodes a status code into human-readable text. Unknown
// codes get the same fallback formatting the vendor lookup produces.
func StatusText(s Status) string {
	if t, ok := statusTexts[s]; ok {
		return t
	}
	return fmt.Sprintf("Unknown error code: %05Xh", uint32(s))
}
