package consensus

import "fmt"

// ErrProtocolViolation wraps a structural defect in an incoming vote or
// proposal — wrong chain, malformed step, or a proposal whose claimed hash
// doesn't match its own content. Distinct from a bad signature: this check
// runs first, before any cryptographic verification, so a malformed message
// never reaches the Aggregator or gets charged a signature check at all.
var ErrProtocolViolation = fmt.Errorf("consensus: protocol violation")

// MessageValidator performs the structural field checks spec §7 groups
// under "Protocol violation" (invalid vote fields, mismatched chain_id)
// before a message is handed to the Aggregator or applied to a Controller's
// state, grounded on
// original_source/src/consensus/message_validator.py's MessageValidator.
type MessageValidator struct {
	chainID string
}

// NewMessageValidator creates a MessageValidator bound to chainID.
func NewMessageValidator(chainID string) *MessageValidator {
	return &MessageValidator{chainID: chainID}
}

// ValidateVote rejects a vote with a negative height or a step other than
// PREVOTE/PRECOMMIT, mirroring MessageValidator.validate_vote's structural
// checks. Chain-ID mismatch (the other half of validate_vote) has no
// separate wire field to check here: spec §6's VOTE envelope carries no
// chain_id field at all, so a cross-chain vote is instead caught by
// Aggregator.Record's signature verification, which reconstructs the
// signing bytes under this chain's own VOTE domain and rejects
// anything signed under a different one.
func (m *MessageValidator) ValidateVote(v Vote) error {
	if v.Height < 0 {
		return fmt.Errorf("%w: vote height %d is negative", ErrProtocolViolation, v.Height)
	}
	if v.Step != StepPrevote && v.Step != StepPrecommit {
		return fmt.Errorf("%w: vote step %q is not PREVOTE or PRECOMMIT", ErrProtocolViolation, v.Step)
	}
	if v.BlockHash == "" {
		return fmt.Errorf("%w: vote has no block_hash (use NilHash for NIL)", ErrProtocolViolation)
	}
	return nil
}

// ValidateProposal rejects a proposal whose envelope fields (height, round)
// disagree with its own embedded block header, whose claimed BlockHash does
// not match the hash recomputed from the block's actual content, or whose
// header signature doesn't verify under this chain's HEADER domain for the
// claimed proposer — mirroring MessageValidator.validate_proposal and
// validate_block plus block.py's verify_block_header, and closing the gap
// where a Byzantine proposer could send a block whose content doesn't match
// its claimed hash.
func (m *MessageValidator) ValidateProposal(prop Proposal) error {
	if prop.Height < 0 {
		return fmt.Errorf("%w: proposal height %d is negative", ErrProtocolViolation, prop.Height)
	}
	if prop.Height != prop.Block.Header.Height || prop.Round != prop.Block.Header.Round {
		return fmt.Errorf("%w: proposal (height=%d,round=%d) does not match its block header (height=%d,round=%d)",
			ErrProtocolViolation, prop.Height, prop.Round, prop.Block.Header.Height, prop.Block.Header.Round)
	}
	recomputed := ComputeBlockHash(prop.Block.Header, prop.Block.Txs)
	if recomputed != prop.BlockHash || recomputed != prop.Block.Hash {
		return fmt.Errorf("%w: proposal block_hash %q does not match recomputed hash %q",
			ErrProtocolViolation, prop.BlockHash, recomputed)
	}
	if err := VerifyBlockHeader(prop.Block.Header, m.chainID); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}
