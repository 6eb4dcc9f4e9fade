package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the subset of a Hardhat compilation artifact needed to deploy.
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// ParsedABI decodes the artifact ABI.
func (a *Artifact) ParsedABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(string(a.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse %s ABI: %w", a.ContractName, err)
	}
	return parsed, nil
}

// Code decodes the creation bytecode.
func (a *Artifact) Code() ([]byte, error) {
	code, err := hexutil.Decode(a.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("invalid %s bytecode: %w", a.ContractName, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%s has no bytecode (abstract contract or interface?)", a.ContractName)
	}
	return code, nil
}

func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	a := &Artifact{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	return a, nil
}

// ArtifactSource returns the artifact of a contract by name.
type ArtifactSource func(contract string) (*Artifact, error)

// FileArtifacts resolves artifacts under path. A directory is read with the
// Hardhat layout <dir>/<Name>.sol/<Name>.json; a file is used as is.
func FileArtifacts(path string) ArtifactSource {
	return func(contract string) (*Artifact, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("artifact path %s: %w", path, err)
		}
		file := path
		if info.IsDir() {
			file = filepath.Join(path, contract+".sol", contract+".json")
		}
		a, err := LoadArtifact(file)
		if err != nil {
			return nil, err
		}
		if a.ContractName != "" && a.ContractName != contract {
			return nil, fmt.Errorf("artifact %s holds %s, expected %s", file, a.ContractName, contract)
		}
		return a, nil
	}
}
