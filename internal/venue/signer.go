package venue

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// Signer signs /exchange actions with the configured private key.
//
// The venue's scheme: the action is msgpack-encoded, concatenated with the
// nonce (and an empty vault marker), and keccak-hashed. That hash becomes the
// connectionId of a phantom "Agent" message which is signed as EIP-712 typed
// data. The source field distinguishes mainnet ("a") from testnet ("b") so a
// signature can never be replayed across deployments.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex private key (with or without 0x prefix).
func NewSigner(keyHex string) (*Signer, error) {
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the key's address. For agent keys this is the agent
// address, not the master account.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction hashes and signs one exchange action.
func (s *Signer) SignAction(action any, nonce uint64, isMainnet bool) (wireSignature, error) {
	hash, err := actionHash(action, nonce)
	if err != nil {
		return wireSignature{}, err
	}

	source := "b"
	if isMainnet {
		source = "a"
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": []apitypes.Type{
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1337),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hexutil.Encode(hash),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return wireSignature{}, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return wireSignature{}, fmt.Errorf("sign action: %w", err)
	}

	return wireSignature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

// actionHash computes keccak(msgpack(action) || nonce || 0x00). The trailing
// zero byte marks the absence of a vault address.
func actionHash(action any, nonce uint64) ([]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}

	data := make([]byte, 0, len(packed)+9)
	data = append(data, packed...)
	data = binary.BigEndian.AppendUint64(data, nonce)
	data = append(data, 0x00)

	return crypto.Keccak256(data), nil
}
