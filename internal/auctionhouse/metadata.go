package auctionhouse

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/auctionhouse/backend/internal/ledger"
	"github.com/coldbell/auctionhouse/backend/internal/pda"
)

const (
	metadataKeyV1 = 4
	maxCreators   = 5
)

type Creator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

// Metadata is the subset of the token metadata record that settlement reads.
type Metadata struct {
	UpdateAuthority      solana.PublicKey
	Mint                 solana.PublicKey
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []Creator
	PrimarySaleHappened  bool
	IsMutable            bool
}

func (m Metadata) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(metadataKeyV1); err != nil {
		return err
	}
	if err := encoder.WriteBytes(m.UpdateAuthority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(m.Mint[:], false); err != nil {
		return err
	}
	for _, s := range []string{m.Name, m.Symbol, m.URI} {
		if err := encoder.Encode(s); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint16(m.SellerFeeBasisPoints, bin.LE); err != nil {
		return err
	}
	if m.Creators == nil {
		if err := encoder.WriteBool(false); err != nil {
			return err
		}
	} else {
		if err := encoder.WriteBool(true); err != nil {
			return err
		}
		if err := encoder.WriteUint32(uint32(len(m.Creators)), bin.LE); err != nil {
			return err
		}
		for _, creator := range m.Creators {
			if err := encoder.WriteBytes(creator.Address[:], false); err != nil {
				return err
			}
			if err := encoder.WriteBool(creator.Verified); err != nil {
				return err
			}
			if err := encoder.WriteUint8(creator.Share); err != nil {
				return err
			}
		}
	}
	if err := encoder.WriteBool(m.PrimarySaleHappened); err != nil {
		return err
	}
	return encoder.WriteBool(m.IsMutable)
}

func (m *Metadata) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	key, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	if key != metadataKeyV1 {
		return fmt.Errorf("metadata key %d: %w", key, ErrDiscriminatorWrong)
	}
	if err := readPublicKey(decoder, &m.UpdateAuthority); err != nil {
		return err
	}
	if err := readPublicKey(decoder, &m.Mint); err != nil {
		return err
	}
	for _, s := range []*string{&m.Name, &m.Symbol, &m.URI} {
		if err := decoder.Decode(s); err != nil {
			return err
		}
	}
	if m.SellerFeeBasisPoints, err = decoder.ReadUint16(bin.LE); err != nil {
		return err
	}
	hasCreators, err := decoder.ReadBool()
	if err != nil {
		return err
	}
	m.Creators = nil
	if hasCreators {
		count, err := decoder.ReadUint32(bin.LE)
		if err != nil {
			return err
		}
		if count > maxCreators {
			return fmt.Errorf("metadata lists %d creators", count)
		}
		m.Creators = make([]Creator, count)
		for i := range m.Creators {
			if err := readPublicKey(decoder, &m.Creators[i].Address); err != nil {
				return err
			}
			if m.Creators[i].Verified, err = decoder.ReadBool(); err != nil {
				return err
			}
			if m.Creators[i].Share, err = decoder.ReadUint8(); err != nil {
				return err
			}
		}
	}
	if m.PrimarySaleHappened, err = decoder.ReadBool(); err != nil {
		return err
	}
	m.IsMutable, err = decoder.ReadBool()
	return err
}

// assertMetadataValid checks that metadata derives from mint and is populated.
func assertMetadataValid(tx *ledger.Tx, metadata, mint solana.PublicKey) error {
	if _, err := assertDerivation(pda.TokenMetadataProgramID, metadata, pda.MetadataSeeds(mint)); err != nil {
		return fmt.Errorf("metadata %s: %w", metadata, err)
	}
	if !tx.Load(metadata).HasData() {
		return ErrMetadataDoesntExist
	}
	return nil
}

func loadMetadata(tx *ledger.Tx, metadata solana.PublicKey) (*Metadata, error) {
	acct := tx.Load(metadata)
	if !acct.HasData() {
		return nil, ErrMetadataDoesntExist
	}
	if !acct.Owner.Equals(pda.TokenMetadataProgramID) {
		return nil, fmt.Errorf("metadata %s owned by %s: %w", metadata, acct.Owner, ErrIncorrectOwner)
	}
	var out Metadata
	if err := UnmarshalAccount(acct.Data, &out); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", metadata, err)
	}
	return &out, nil
}
