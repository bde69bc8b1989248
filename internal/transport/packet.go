package transport

// Kind identifies the purpose of a packet travelling between interfaces.
type Kind uint8

const (
	KindTagEager Kind = iota + 1
	KindTagRndv
	KindRndvAck
	KindGetReq
	KindGetResp
	KindPutReq
	KindPutAck
	KindAtomicReq
	KindAtomicResp
	KindAM
	KindAMRndv
	KindAMAck
)

func (k Kind) String() string {
	switch k {
	case KindTagEager:
		return "tag-eager"
	case KindTagRndv:
		return "tag-rndv"
	case KindRndvAck:
		return "rndv-ack"
	case KindGetReq:
		return "get-req"
	case KindGetResp:
		return "get-resp"
	case KindPutReq:
		return "put-req"
	case KindPutAck:
		return "put-ack"
	case KindAtomicReq:
		return "atomic-req"
	case KindAtomicResp:
		return "atomic-resp"
	case KindAM:
		return "am"
	case KindAMRndv:
		return "am-rndv"
	case KindAMAck:
		return "am-ack"
	default:
		return "unknown"
	}
}

// Class groups packet kinds by the event class that a wakeup subscription
// filters on.
type Class uint8

const (
	ClassTagRecv Class = 1 << iota
	ClassTagSend
	ClassRMA
	ClassAMO
	// ClassRX marks packets that carry a request or message for the receiver.
	ClassRX
	// ClassTX marks packets that complete an operation the receiver issued.
	ClassTX
)

// Class reports the event classes a packet of this kind raises on arrival.
func (k Kind) Class() Class {
	switch k {
	case KindTagEager, KindTagRndv:
		return ClassTagRecv | ClassRX
	case KindRndvAck:
		return ClassTagSend | ClassTX
	case KindGetReq, KindPutReq:
		return ClassRMA | ClassRX
	case KindGetResp, KindPutAck:
		return ClassRMA | ClassTX
	case KindAtomicReq:
		return ClassAMO | ClassRX
	case KindAtomicResp:
		return ClassAMO | ClassTX
	case KindAM, KindAMRndv:
		return ClassRX
	case KindAMAck:
		return ClassTX
	default:
		return 0
	}
}

// ExpectsReply reports whether the sender waits for a response to the packet.
func (k Kind) ExpectsReply() bool {
	switch k {
	case KindTagRndv, KindGetReq, KindPutReq, KindAtomicReq, KindAMRndv:
		return true
	default:
		return false
	}
}

// Reply returns the response kind matching a request kind.
func (k Kind) Reply() Kind {
	switch k {
	case KindTagRndv:
		return KindRndvAck
	case KindGetReq:
		return KindGetResp
	case KindPutReq:
		return KindPutAck
	case KindAtomicReq:
		return KindAtomicResp
	case KindAMRndv:
		return KindAMAck
	default:
		return 0
	}
}

// AtomicOp selects the arithmetic or bitwise operation applied by an atomic
// request.
type AtomicOp uint8

const (
	AtomicAdd AtomicOp = iota + 1
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicSwap
	AtomicCSwap
)

// Packet is the unit exchanged between interfaces. Data and Dst reference
// caller memory directly; the receiving side copies between those slices and
// registered regions so payloads are never staged through the fabric.
type Packet struct {
	Kind  Kind
	Src   uint64
	ReqID uint64
	// Tag is the message tag, or the handler id of an active message.
	Tag uint64

	// Header is the active message header, always copied by the sender.
	Header []byte

	// Data is the eager payload, the rendezvous source or the put source.
	Data []byte
	// Dst is the destination of a get or of a rendezvous receive.
	Dst []byte

	Key  KeyDesc
	Addr uint64

	Op      AtomicOp
	Size    int
	Operand uint64
	Compare uint64
	Result  uint64

	Length int
	Status Status

	// Token is checked by the target before it touches Data or Dst.
	Token *Token
}

// ReplyTo builds the response packet for p carrying the supplied status.
func (p Packet) ReplyTo(src uint64, status Status) Packet {
	return Packet{
		Kind:   p.Kind.Reply(),
		Src:    src,
		ReqID:  p.ReqID,
		Status: status,
	}
}
