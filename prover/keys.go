package prover

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"zkcash/zkcash-pool/logging"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	gnarkio "github.com/consensys/gnark/io"
)

// Trusted setup utility functions
// Taken from: https://github.com/bnb-chain/zkbnb/blob/master/common/prove/proof_keys.go#L19

func LoadProvingKey(filepath string) (pk groth16.ProvingKey, err error) {
	logging.Logger().Info().
		Str("filepath", filepath).
		Msg("start reading proving key")

	pk = groth16.NewProvingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		logging.Logger().Error().
			Str("filepath", filepath).
			Err(err).
			Msg("error opening proving key file")
		return pk, fmt.Errorf("error opening proving key file: %v", err)
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil {
		logging.Logger().Error().
			Str("filepath", filepath).
			Err(err).
			Msg("error getting proving key file info")
		return pk, fmt.Errorf("error getting file info: %v", err)
	}

	logging.Logger().Info().
		Str("filepath", filepath).
		Int64("size", fileInfo.Size()).
		Msg("proving key file stats")

	n, err := pk.ReadFrom(f)
	if err != nil {
		logging.Logger().Error().
			Str("filepath", filepath).
			Int64("bytesRead", n).
			Err(err).
			Msg("error reading proving key file")
		return pk, fmt.Errorf("error reading proving key: %v", err)
	}

	logging.Logger().Info().
		Str("filepath", filepath).
		Int64("bytesRead", n).
		Msg("successfully read proving key")

	return pk, nil
}

// Taken from: https://github.com/bnb-chain/zkbnb/blob/master/common/prove/proof_keys.go#L32
func LoadVerifyingKey(filepath string) (verifyingKey groth16.VerifyingKey, err error) {
	logging.Logger().Info().Msg("start reading verifying key")
	verifyingKey = groth16.NewVerifyingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return verifyingKey, fmt.Errorf("error opening verifying key file: %v", err)
	}
	defer f.Close()

	_, err = verifyingKey.ReadFrom(f)
	if err != nil {
		return verifyingKey, fmt.Errorf("error reading verifying key: %v", err)
	}

	return verifyingKey, nil
}

func LoadConstraintSystem(filepath string) (constraint.ConstraintSystem, error) {
	logging.Logger().Info().Str("filepath", filepath).Msg("start reading constraint system")
	cs := groth16.NewCS(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("error opening constraint system file: %v", err)
	}
	defer f.Close()

	_, err = cs.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("error reading constraint system: %v", err)
	}

	return cs, nil
}

// WithdrawKeyPath names the key file for one tree height.
func WithdrawKeyPath(keysDir string, treeHeight uint32) string {
	return filepath.Join(keysDir, fmt.Sprintf("withdraw_%d.key", treeHeight))
}

func GetKeys(keysDir string, treeHeights []uint32) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, height := range treeHeights {
		key := WithdrawKeyPath(keysDir, height)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	logging.Logger().Info().
		Strs("keys", keys).
		Msg("Loading proving system keys")

	return keys
}

func LoadKeys(keysDirPath string, treeHeights []uint32) ([]*WithdrawProofSystem, error) {
	return LoadKeysWithConfig(keysDirPath, treeHeights, DefaultDownloadConfig())
}

func LoadKeysWithConfig(keysDirPath string, treeHeights []uint32, config *DownloadConfig) ([]*WithdrawProofSystem, error) {
	var systems []*WithdrawProofSystem
	keys := GetKeys(keysDirPath, treeHeights)

	// Ensure all required keys exist (download if necessary)
	if err := EnsureKeysExist(keys, config); err != nil {
		return nil, fmt.Errorf("failed to ensure keys exist: %w", err)
	}

	for _, key := range keys {
		logging.Logger().Info().Msg("Reading proving system from file " + key + "...")
		system, err := ReadSystemFromFile(key)
		if err != nil {
			return nil, err
		}
		systems = append(systems, system)
		logging.Logger().Info().
			Uint32("treeHeight", system.TreeHeight).
			Msg("Read WithdrawProofSystem")
	}
	return systems, nil
}

func WriteProvingSystem(system *WithdrawProofSystem, path string, pathVkey string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	written, err := system.WriteTo(file)
	if err != nil {
		return err
	}

	logging.Logger().Info().Int64("bytesWritten", written).Msg("Proving system written to file")

	// Only write separate vkey file if path is provided
	if pathVkey != "" {
		var buf bytes.Buffer
		_, err = system.VerifyingKey.(gnarkio.WriterRawTo).WriteRawTo(&buf)
		if err != nil {
			return err
		}

		// Write vkey in text format for embedding in program builds: [byte1 byte2 byte3 ...]
		vkeyBytes := buf.Bytes()
		vkeyFile, err := os.Create(pathVkey)
		if err != nil {
			return err
		}
		defer vkeyFile.Close()

		vkeyFile.WriteString("[")
		for i, b := range vkeyBytes {
			if i > 0 {
				vkeyFile.WriteString(" ")
			}
			fmt.Fprintf(vkeyFile, "%d", b)
		}
		vkeyFile.WriteString("]")
	}

	return nil
}
