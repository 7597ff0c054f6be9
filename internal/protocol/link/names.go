package link

import (
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/buserr"
)

// opcodeName maps command opcodes to the stable labels used in metrics and
// trace annotations.
func opcodeName(op uint8) string {
	switch op {
	case wire.CmdGetParam0, wire.CmdGetParam1, wire.CmdGetParam2, wire.CmdGetParam3:
		return "get-param"
	case wire.CmdSetParam0, wire.CmdSetParam1, wire.CmdSetParam2, wire.CmdSetParam3:
		return "set-param"
	case wire.CmdNodeStop:
		return "node-stop"
	case wire.CmdNetAccess:
		return "net-access"
	case wire.CmdUserID:
		return "user-id"
	case wire.CmdChkBaudRate:
		return "chk-baud"
	case wire.CmdAlertClr:
		return "alert-clr"
	case wire.CmdAlertLog:
		return "alert-log"
	case wire.CmdAddPosn:
		return "add-posn"
	case wire.CmdSyncPosn:
		return "sync-posn"
	case wire.CmdDataAcq:
		return "data-acq"
	case wire.CmdMovePosnAbs, wire.CmdMovePosnAbsTrig:
		return "move-posn-abs"
	case wire.CmdMovePosnRel, wire.CmdMovePosnRelTrig:
		return "move-posn-rel"
	case wire.CmdMoveVel, wire.CmdMoveVelTrig:
		return "move-vel"
	case wire.CmdMoveSkyline:
		return "move-skyline"
	}
	return "other"
}

// damageName maps scanner damage kinds to metric labels.
func damageName(kind wire.DamageKind) string {
	switch kind {
	case buserr.Fragment:
		return "fragment"
	case buserr.BadChecksum:
		return "checksum"
	case buserr.StrayData:
		return "stray"
	case buserr.Babble:
		return "babble"
	case buserr.PortOverrun:
		return "overrun"
	}
	return "other"
}
