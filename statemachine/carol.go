package statemachine

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinswapcs/coinswap/build"
	"github.com/coinswapcs/coinswap/swapparams"
)

// tickCarol handles the inbound-triggered states of C's mirrored
// sequence.
func (e *Engine) tickCarol(msg *Message) (Outcome, error) {
	switch e.state {
	case CarolInit:
		if err := e.validateMethod(msg, MethodHandshake); err != nil {
			return Outcome{}, err
		}
		hash, ok := msg.Payload.([]byte)
		if !ok || len(hash) != build.HashLen {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad handshake payload"}
		}
		if err := e.log.PersistSig("hash", hash); err != nil {
			return Outcome{}, err
		}

		coopOwnerPub, err := e.newSwapKey("coop_owner")
		if err != nil {
			return Outcome{}, err
		}
		counterpartPub, err := e.newSwapKey("counterpart")
		if err != nil {
			return Outcome{}, err
		}
		timeoutPub, err := e.newSwapKey("timeout")
		if err != nil {
			return Outcome{}, err
		}
		destAddr, err := e.wallet.NewPayoutAddress()
		if err != nil {
			return Outcome{}, err
		}
		e.selfHalf = swapparams.Half{
			PubCoopOwner:        coopOwnerPub,
			PubCoopCounterparty: counterpartPub,
			PubTimeoutOwner:     timeoutPub,
			DestAddr:            destAddr,
		}

		if err := e.advance(CarolHandshakeRecvd); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolHandshakeAckSent); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodHandshake}}, nil

	case CarolHandshakeAckSent:
		if err := e.validateMethod(msg, MethodNegotiate); err != nil {
			return Outcome{}, err
		}
		half, ok := msg.Payload.(swapparams.Half)
		if !ok {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad negotiate payload"}
		}
		e.selfHalf.SessionID = half.SessionID
		height, err := e.chain.BestHeight()
		if err != nil {
			return Outcome{}, err
		}
		params, err := swapparams.Negotiate(half, e.selfHalf, height, e.Policy)
		if err != nil {
			return Outcome{}, err
		}
		e.params = params
		if err := e.log.PersistParams(params); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolNegotiateRecvd); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolNegotiateAckSent); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodNegotiate, Payload: e.selfHalf}}, nil

	case CarolNegotiateAckSent:
		if err := e.validateMethod(msg, MethodTx0idHxTx2Sig); err != nil {
			return Outcome{}, err
		}
		payload, ok := msg.Payload.(TxidSigPayload)
		if !ok {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad tx0id payload"}
		}
		if payload.Hash != e.wantHash() {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "hash commitment mismatch"}
		}
		sigTx2A, _, err := build.DecodePartialSig(payload.Sig)
		if err != nil {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad tx2 signature: " + err.Error()}
		}
		if err := e.log.PersistTxid("tx0", payload.Txid); err != nil {
			return Outcome{}, err
		}
		if err := e.log.PersistSig("tx2_sig_a", sigTx2A); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolTx0idVerified); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolTx1BuiltBroadcast); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext}, nil

	case CarolTx3SigSent:
		if err := e.validateMethod(msg, MethodSigTx3); err != nil {
			return Outcome{}, err
		}
		encodedSig, _ := msg.Payload.([]byte)
		sig, _, err := build.DecodePartialSig(encodedSig)
		if err != nil {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad tx3 signature: " + err.Error()}
		}
		if err := e.log.PersistSig("tx3_sig_a", sig); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolPhase2Ready); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext}, nil

	case CarolPhase2Ready:
		if err := e.validateMethod(msg, MethodSecret); err != nil {
			return Outcome{}, err
		}
		secret, _ := msg.Payload.([]byte)
		if err := e.checkSecret(secret); err != nil {
			return Outcome{}, err
		}
		e.secret = secret
		if err := e.log.PersistSecret(secret); err != nil {
			return Outcome{}, err
		}
		if !e.hook.BeforeSign(MethodSigTx4) {
			return Outcome{Kind: KindBackout, Reason: fmt.Errorf("tx2 counter-signature withheld")}, nil
		}
		if err := e.advance(CarolSecretRecvd); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolTx2SigSent); err != nil {
			return Outcome{}, err
		}
		sig, err := e.signTx2ForAlice()
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodSigTx4, Payload: sig}}, nil

	case CarolTx2SigSent:
		if err := e.validateMethod(msg, MethodConfirmTx4); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(CarolTx3Broadcast); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext}, nil

	default:
		return Outcome{}, fmt.Errorf("statemachine: no inbound tick defined for carol state %v", e.state)
	}
}

// tickCarolLocal handles C's local states: building/broadcasting TX1
// and finally broadcasting TX3 (tx0id_verified only reports a wait).
// C's key generation happens on the inbound handshake in tickCarol.
func (e *Engine) tickCarolLocal() (Outcome, error) {
	switch e.state {
	case CarolTx0idVerified:
		return Outcome{Kind: KindWait}, nil

	case CarolTx1BuiltBroadcast:
		return e.buildAndBroadcastTx1()

	case CarolTx3Broadcast:
		return e.broadcastTx3()

	default:
		return Outcome{}, fmt.Errorf("statemachine: no local tick defined for carol state %v", e.state)
	}
}

func (e *Engine) buildAndBroadcastTx1() (Outcome, error) {
	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return Outcome{}, err
	}
	if err := build.CheckAbsurdFee(rate, e.absurdFeePerKB); err != nil {
		return Outcome{}, err
	}

	utxos, err := e.wallet.SelectUTXOs(e.params.Amount)
	if err != nil {
		return Outcome{}, err
	}
	changeScript, err := e.wallet.NewChangeScript()
	if err != nil {
		return Outcome{}, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubC_CoopOwner, e.params.PubA_Counterpart, e.params.PubC_Timeout,
		e.wantHash(), int64(e.params.TimeoutL2))
	if err != nil {
		return Outcome{}, err
	}

	result, err := build.BuildFundingTx(utxos, escrowScript, e.params.Amount, changeScript, rate)
	if err != nil {
		return Outcome{}, err
	}

	if !e.hook.BeforeBroadcast(result.Tx.TxHash().String()) {
		return Outcome{Kind: KindBackout, Reason: fmt.Errorf("broadcast of tx1 withheld")}, nil
	}
	txid, err := e.wallet.Broadcast(result.Tx)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.log.PersistTxid("tx1", txid); err != nil {
		return Outcome{}, err
	}

	tx3, tx3EscrowScript, err := e.buildTx3(txid)
	if err != nil {
		return Outcome{}, err
	}
	coopOwnerPriv := e.privKey("coop_owner")
	presig, err := build.SignEscrowCooperative(tx3, tx3EscrowScript, e.params.Amount, coopOwnerPriv)
	if err != nil {
		return Outcome{}, err
	}
	encodedPresig, err := build.EncodePartialSig(tx3, tx3EscrowScript, e.params.Amount,
		coopOwnerPriv.PubKey(), presig)
	if err != nil {
		return Outcome{}, err
	}

	if err := e.advance(CarolTx3SigSent); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: KindNext, Reply: &Message{
		Method:  MethodSigTx3,
		Payload: TxidSigPayload{Txid: txid, Sig: encodedPresig},
	}}, nil
}

// buildTx3 constructs the unsigned TX3 (C's own funded escrow redeem,
// paying out to DestC) and its redeem script, given TX1's txid. Used
// both to produce C's early cooperative pre-signature (sent alongside
// TX1's txid) and later to finish and broadcast TX3 once A's
// countersignature and the secret have arrived.
func (e *Engine) buildTx3(tx1id chainhash.Hash) (*wire.MsgTx, []byte, error) {
	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return nil, nil, err
	}
	fee := rate.FeeForVSize(build.EstimateRedeemVSize())
	destScript, err := txscript.PayToAddrScript(e.params.DestC)
	if err != nil {
		return nil, nil, err
	}
	tx, err := build.BuildRedeemTx(tx1id, 0, e.params.Amount, destScript, fee, 0)
	if err != nil {
		return nil, nil, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubC_CoopOwner, e.params.PubA_Counterpart, e.params.PubC_Timeout,
		e.wantHash(), int64(e.params.TimeoutL2))
	if err != nil {
		return nil, nil, err
	}
	return tx, escrowScript, nil
}

func (e *Engine) signTx2ForAlice() ([]byte, error) {
	tx0id, _ := e.log.Get("tx0")
	var hash chainhash.Hash
	copy(hash[:], tx0id)

	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return nil, err
	}
	fee := rate.FeeForVSize(build.EstimateRedeemVSize())
	destScript, err := txscript.PayToAddrScript(e.params.DestA)
	if err != nil {
		return nil, err
	}
	tx, err := build.BuildRedeemTx(hash, 0, e.params.Amount+e.params.CoinswapFee, destScript, fee, 0)
	if err != nil {
		return nil, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubA_CoopOwner, e.params.PubC_Counterpart, e.params.PubA_Timeout,
		e.wantHash(), int64(e.params.TimeoutL1))
	if err != nil {
		return nil, err
	}
	priv := e.privKey("counterpart")
	sig, err := build.SignEscrowCooperative(tx, escrowScript, e.params.Amount+e.params.CoinswapFee, priv)
	if err != nil {
		return nil, err
	}
	return build.EncodePartialSig(tx, escrowScript, e.params.Amount+e.params.CoinswapFee, priv.PubKey(), sig)
}

func (e *Engine) broadcastTx3() (Outcome, error) {
	priv := e.privKey("coop_owner")
	tx1idRaw, _ := e.log.Get("tx1")
	var tx1id chainhash.Hash
	copy(tx1id[:], tx1idRaw)

	tx, escrowScript, err := e.buildTx3(tx1id)
	if err != nil {
		return Outcome{}, err
	}
	sigA, _ := e.log.Get("tx3_sig_a")
	witness, err := build.SignEscrowSecret(tx, escrowScript, e.params.Amount,
		priv, e.params.PubA_Counterpart, sigA, e.secret)
	if err != nil {
		return Outcome{}, err
	}
	tx.TxIn[0].Witness = witness

	if !e.hook.BeforeBroadcast(tx.TxHash().String()) {
		return Outcome{Kind: KindBackout, Reason: fmt.Errorf("broadcast of tx3 withheld")}, nil
	}
	txid, err := e.wallet.Broadcast(tx)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.log.PersistTxid("tx3", txid); err != nil {
		return Outcome{}, err
	}
	if err := e.advance(CarolDone); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: KindDone}, nil
}

// tickCarolPoll exists only to satisfy Engine.TickPoll's role dispatch;
// C's sequence has no poll-triggered state of its own (it waits on
// inbound messages and, while building TX1/TX3, on local ticks).
func (e *Engine) tickCarolPoll(confirmations map[string]uint32) (Outcome, error) {
	return Outcome{}, fmt.Errorf("statemachine: no poll tick defined for carol state %v", e.state)
}
