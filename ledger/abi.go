// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"strings"

	"github.com/luxfi/geth/accounts/abi"
)

const (
	submitMethod       = "submitManuscript"
	getMethod          = "getManuscript"
	authorMethod       = "getAuthorManuscripts"
	totalMethod        = "getTotalManuscripts"
	submittedEventName = "ManuscriptSubmitted"
)

// ManuscriptABI is the JSON ABI of the manuscript contract. Encrypted values
// are carried as bytes32 handles.
const ManuscriptABI = `[
  {"type":"function","name":"submitManuscript","stateMutability":"nonpayable",
   "inputs":[{"name":"encryptedContent","type":"bytes32[]"},{"name":"inputProof","type":"bytes"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getManuscript","stateMutability":"view",
   "inputs":[{"name":"manuscriptId","type":"uint256"}],
   "outputs":[{"name":"encryptedContent","type":"bytes32[]"},{"name":"author","type":"address"},
              {"name":"timestamp","type":"uint256"},{"name":"exists","type":"bool"}]},
  {"type":"function","name":"getAuthorManuscripts","stateMutability":"view",
   "inputs":[{"name":"author","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getTotalManuscripts","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nextManuscriptId","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ManuscriptSubmitted","anonymous":false,
   "inputs":[{"name":"manuscriptId","type":"uint256","indexed":true},
             {"name":"author","type":"address","indexed":true},
             {"name":"timestamp","type":"uint256","indexed":false}]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ManuscriptABI))
	if err != nil {
		panic(err)
	}
	return parsed
}
