package connection

import "github.com/gorilla/websocket"

// closeReasons is the registry of usable close codes. CloseWithCode refuses
// codes outside it.
var closeReasons = map[int]string{
	websocket.CloseNormalClosure:           "normal closure",
	websocket.CloseGoingAway:               "going away",
	websocket.CloseProtocolError:           "protocol error",
	websocket.CloseUnsupportedData:         "unsupported data",
	websocket.CloseAbnormalClosure:         "abnormal closure",
	websocket.CloseInvalidFramePayloadData: "invalid frame payload data",
	websocket.ClosePolicyViolation:         "policy violation",
	websocket.CloseMessageTooBig:           "message too big",
	websocket.CloseMandatoryExtension:      "mandatory extension",
	websocket.CloseInternalServerErr:       "internal server error",
	websocket.CloseServiceRestart:          "service restart",
	websocket.CloseTryAgainLater:           "try again later",
}

// CloseReason returns the reason text registered for a close code.
func CloseReason(code int) (string, bool) {
	reason, ok := closeReasons[code]
	return reason, ok
}
