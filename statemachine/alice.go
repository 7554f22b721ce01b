package statemachine

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/coinswapcs/coinswap/build"
	"github.com/coinswapcs/coinswap/swapparams"
)

// tickAliceLocal handles the local-triggered states of A's sequence:
// init, tx0_built_broadcast, secret_sent, tx2_broadcast. The
// poll-triggered phase2_ready is handled by tickAlicePoll.
func (e *Engine) tickAliceLocal() (Outcome, error) {
	switch e.state {
	case AliceInit:
		secret := make([]byte, build.SecretLen)
		if _, err := rand.Read(secret); err != nil {
			return Outcome{}, err
		}
		e.secret = secret
		hash := build.CommitHash(secret)
		if err := e.log.PersistSecret(secret); err != nil {
			return Outcome{}, err
		}
		if err := e.log.PersistSig("hash", hash[:]); err != nil {
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

		height, err := e.chain.BestHeight()
		if err != nil {
			return Outcome{}, err
		}
		if e.TimeoutGapL1 == 0 {
			e.TimeoutGapL1 = 144
		}
		if e.TimeoutGapL2 == 0 {
			e.TimeoutGapL2 = 144
		}

		e.selfHalf = swapparams.Half{
			SessionID:           e.SessionID,
			PubCoopOwner:        coopOwnerPub,
			PubCoopCounterparty: counterpartPub,
			PubTimeoutOwner:     timeoutPub,
			DestAddr:            destAddr,
			Amount:              e.Amount,
			CoinswapFee:         e.CoinswapFee,
			TimeoutL1:           height + e.TimeoutGapL1,
			TimeoutL2:           height + e.TimeoutGapL1 + e.TimeoutGapL2,
		}

		if err := e.advance(AliceHandshakeSent); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodHandshake, Payload: hash[:]}}, nil

	case AliceTx0BuiltBroadcast:
		return e.buildAndBroadcastTx0()

	case AliceSecretSent:
		secret := e.secret
		if override := e.hook.BeforeReveal(secret); override != nil {
			secret = override
		}
		if err := e.advance(AliceTx4SigRecvd); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{
			Method:  MethodSecret,
			Payload: secret,
		}}, nil

	case AliceTx2Broadcast:
		return e.broadcastTx2()

	default:
		return Outcome{}, fmt.Errorf("statemachine: no local tick defined for alice state %v", e.state)
	}
}

// tickAlice handles the inbound-triggered states.
func (e *Engine) tickAlice(msg *Message) (Outcome, error) {
	switch e.state {
	case AliceHandshakeSent:
		if err := e.validateMethod(msg, MethodHandshake); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceHandshakeAck); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceNegotiateSent); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodNegotiate, Payload: e.selfHalf}}, nil

	case AliceNegotiateSent:
		half, ok := msg.Payload.(swapparams.Half)
		if !ok {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad negotiate payload"}
		}
		height, err := e.chain.BestHeight()
		if err != nil {
			return Outcome{}, err
		}
		// A proposed the amount and timeouts itself; only C checks them
		// against policy bounds, so A accepts exactly its own proposal.
		own := swapparams.PolicyBounds{
			MinAmount: e.selfHalf.Amount, MaxAmount: e.selfHalf.Amount,
			MinTimeoutGap: 0, MaxTimeoutGap: 1<<31 - 1,
		}
		params, err := swapparams.Negotiate(e.selfHalf, half, height, own)
		if err != nil {
			return Outcome{}, err
		}
		e.params = params
		if err := e.log.PersistParams(params); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceNegotiateAck); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceTx0BuiltBroadcast); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext}, nil

	case AliceTx0idHxTx2SigSent:
		txid, sig, ok := decodeTxidSigPayload(msg)
		if !ok {
			return Outcome{}, &ProtocolError{State: e.state, Method: msg.Method, Reason: "bad tx1id/sig payload"}
		}
		if err := e.log.PersistTxid("tx1", txid); err != nil {
			return Outcome{}, err
		}
		if err := e.log.PersistSig("tx3_sig_c", sig); err != nil {
			return Outcome{}, err
		}
		if !e.hook.BeforeSign(MethodSigTx3) {
			return Outcome{Kind: KindBackout, Reason: fmt.Errorf("counter-sign of tx3 withheld")}, nil
		}
		sigTx3A, err := e.signTx3ForCarol(txid)
		if err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceTx3SignedSent); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AlicePhase2Ready); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext, Reply: &Message{Method: MethodSigTx3, Payload: sigTx3A}}, nil

	case AliceTx4SigRecvd:
		if err := e.validateMethod(msg, MethodSigTx4); err != nil {
			return Outcome{}, err
		}
		encodedSig, _ := msg.Payload.([]byte)
		if err := e.log.PersistSig("tx2_sig_c", encodedSig); err != nil {
			return Outcome{}, err
		}
		if err := e.advance(AliceTx2Broadcast); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindNext}, nil

	default:
		return Outcome{}, fmt.Errorf("statemachine: no inbound tick defined for alice state %v", e.state)
	}
}

func (e *Engine) buildAndBroadcastTx0() (Outcome, error) {
	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return Outcome{}, err
	}
	if err := build.CheckAbsurdFee(rate, e.absurdFeePerKB); err != nil {
		return Outcome{}, err
	}

	utxos, err := e.wallet.SelectUTXOs(e.params.Amount + e.params.CoinswapFee)
	if err != nil {
		return Outcome{}, err
	}
	changeScript, err := e.wallet.NewChangeScript()
	if err != nil {
		return Outcome{}, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubA_CoopOwner, e.params.PubC_Counterpart, e.params.PubA_Timeout,
		e.wantHash(), int64(e.params.TimeoutL1))
	if err != nil {
		return Outcome{}, err
	}

	result, err := build.BuildFundingTx(utxos, escrowScript,
		e.params.Amount+e.params.CoinswapFee, changeScript, rate)
	if err != nil {
		return Outcome{}, err
	}

	if !e.hook.BeforeBroadcast(result.Tx.TxHash().String()) {
		return Outcome{Kind: KindBackout, Reason: fmt.Errorf("broadcast of tx0 withheld")}, nil
	}
	txid, err := e.wallet.Broadcast(result.Tx)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.log.PersistTxid("tx0", txid); err != nil {
		return Outcome{}, err
	}

	tx2, tx2EscrowScript, err := e.buildTx2(txid)
	if err != nil {
		return Outcome{}, err
	}
	priv := e.privKey("coop_owner")
	sigTx2A, err := build.SignEscrowCooperative(tx2, tx2EscrowScript, e.params.Amount+e.params.CoinswapFee, priv)
	if err != nil {
		return Outcome{}, err
	}
	encodedSigTx2A, err := build.EncodePartialSig(tx2, tx2EscrowScript,
		e.params.Amount+e.params.CoinswapFee, priv.PubKey(), sigTx2A)
	if err != nil {
		return Outcome{}, err
	}

	if err := e.advance(AliceTx0idHxTx2SigSent); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: KindNext, Reply: &Message{
		Method: MethodTx0idHxTx2Sig,
		Payload: TxidSigPayload{
			Txid: txid,
			Hash: e.wantHash(),
			Sig:  encodedSigTx2A,
		},
	}}, nil
}

// buildTx2 constructs the unsigned TX2 (A's own funded escrow redeem,
// paying out to DestA) and its redeem script, given TX0's txid. Used
// both to produce A's early cooperative pre-signature (sent alongside
// TX0's txid at tx0id_hx_tx2sig) and later, once C's co-signature has
// arrived, to finish and broadcast TX2.
func (e *Engine) buildTx2(tx0id chainhash.Hash) (*wire.MsgTx, []byte, error) {
	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return nil, nil, err
	}
	fee := rate.FeeForVSize(build.EstimateRedeemVSize())
	destScript, err := txscript.PayToAddrScript(e.params.DestA)
	if err != nil {
		return nil, nil, err
	}
	tx, err := build.BuildRedeemTx(tx0id, 0, e.params.Amount+e.params.CoinswapFee, destScript, fee, 0)
	if err != nil {
		return nil, nil, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubA_CoopOwner, e.params.PubC_Counterpart, e.params.PubA_Timeout,
		e.wantHash(), int64(e.params.TimeoutL1))
	if err != nil {
		return nil, nil, err
	}
	return tx, escrowScript, nil
}

// signTx3ForCarol produces A's cooperative-branch counter-signature on
// TX3 (C's own funded escrow redeem spending TX1), mirroring
// signTx2ForAlice's symmetric role on C's side.
func (e *Engine) signTx3ForCarol(tx1id chainhash.Hash) ([]byte, error) {
	rate, err := e.chain.EstimateFeePerVByte(e.params2FeeTarget())
	if err != nil {
		return nil, err
	}
	fee := rate.FeeForVSize(build.EstimateRedeemVSize())
	destScript, err := txscript.PayToAddrScript(e.params.DestC)
	if err != nil {
		return nil, err
	}
	tx, err := build.BuildRedeemTx(tx1id, 0, e.params.Amount, destScript, fee, 0)
	if err != nil {
		return nil, err
	}
	escrowScript, err := build.EscrowScript(
		e.params.PubC_CoopOwner, e.params.PubA_Counterpart, e.params.PubC_Timeout,
		e.wantHash(), int64(e.params.TimeoutL2))
	if err != nil {
		return nil, err
	}
	priv := e.privKey("counterpart")
	sig, err := build.SignEscrowCooperative(tx, escrowScript, e.params.Amount, priv)
	if err != nil {
		return nil, err
	}
	return build.EncodePartialSig(tx, escrowScript, e.params.Amount, priv.PubKey(), sig)
}

func (e *Engine) broadcastTx2() (Outcome, error) {
	priv := e.privKey("coop_owner")
	tx0idRaw, _ := e.log.Get("tx0") // TX2 spends TX0's escrow output
	var tx0id chainhash.Hash
	copy(tx0id[:], tx0idRaw)

	tx, escrowScript, err := e.buildTx2(tx0id)
	if err != nil {
		return Outcome{}, err
	}

	encodedSigC, _ := e.log.Get("tx2_sig_c")
	sigC, _, err := build.DecodePartialSig(encodedSigC)
	if err != nil {
		return Outcome{}, fmt.Errorf("statemachine: decoding c's tx2 signature: %w", err)
	}
	witness, err := build.SignEscrowSecret(tx, escrowScript, e.params.Amount+e.params.CoinswapFee,
		priv, e.params.PubC_Counterpart, sigC, e.secret)
	if err != nil {
		return Outcome{}, err
	}
	tx.TxIn[0].Witness = witness

	if !e.hook.BeforeBroadcast(tx.TxHash().String()) {
		return Outcome{Kind: KindBackout, Reason: fmt.Errorf("broadcast of tx2 withheld")}, nil
	}
	txid, err := e.wallet.Broadcast(tx)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.log.PersistTxid("tx2", txid); err != nil {
		return Outcome{}, err
	}
	if err := e.advance(AliceDone); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: KindDone}, nil
}

// phase2SafetyMargin is how many blocks of headroom against L1 the
// secret must be revealed by; it sets both the backout trigger and the
// Deadline reported alongside a KindWait outcome.
const phase2SafetyMargin = 6

// tickAlicePoll handles phase2_ready, the one poll-triggered state in
// A's sequence: it must see C's TX1 reach tx01ConfirmWait confirmations
// before it is safe to reveal the secret, and must abandon the swap if
// L1 gets too close first.
func (e *Engine) tickAlicePoll(confirmations map[string]uint32) (Outcome, error) {
	switch e.state {
	case AlicePhase2Ready:
		height, err := e.chain.BestHeight()
		if err != nil {
			return Outcome{}, err
		}
		if height >= e.params.TimeoutL1-phase2SafetyMargin {
			return Outcome{Kind: KindBackout, Reason: fmt.Errorf(
				"height %d within safety margin of L1 %d", height, e.params.TimeoutL1)}, nil
		}

		tx1Raw, ok := e.log.Get("tx1")
		var tx1id chainhash.Hash
		if ok {
			copy(tx1id[:], tx1Raw)
		}
		if !ok || confirmations["tx1"] < e.tx01ConfirmWait {
			return Outcome{Kind: KindWait, Watch: &Watch{
				Confirmations: &ConfirmationWatch{Txid: tx1id.String(), NumConfs: e.tx01ConfirmWait},
				Deadline:      Deadline{Height: e.params.TimeoutL1 - phase2SafetyMargin},
			}}, nil
		}

		if err := e.advance(AliceSecretSent); err != nil {
			return Outcome{}, err
		}
		return e.tickAliceLocal()

	default:
		return Outcome{}, fmt.Errorf("statemachine: no poll tick defined for alice state %v", e.state)
	}
}

func (e *Engine) params2FeeTarget() uint32 { return 2 }

func decodeTxidSigPayload(msg *Message) (chainhash.Hash, []byte, bool) {
	p, ok := msg.Payload.(TxidSigPayload)
	if !ok {
		return chainhash.Hash{}, nil, false
	}
	sig, _, err := build.DecodePartialSig(p.Sig)
	if err != nil {
		return chainhash.Hash{}, nil, false
	}
	return p.Txid, sig, true
}
