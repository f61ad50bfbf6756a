package wallet

// Standard ERC-20 surface (EIP-20), reads plus the two writes the flow
// submits. Selectors: balanceOf 0x70a08231, allowance 0xdd62ed3e,
// approve 0x095ea7b3, transfer 0xa9059cbb.
const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Topup payment contract entry point. The contract pulls the approved
// stablecoin amount from the caller and records the payment reference.
const topupABIJSON = `[
  {"name":"pay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"ref","type":"bytes32"}],"outputs":[]}
]`
