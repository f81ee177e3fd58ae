package ledger

// 手写的最小 ABI 片段，只包含用到的方法

const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Quoter V1 风格：quoteExactInputSingle 通过 eth_call 使用
const quoterABI = `[
  {"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"fee","type":"uint24"},
    {"name":"amountIn","type":"uint256"},
    {"name":"sqrtPriceLimitX96","type":"uint160"}
  ],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// SwapRouter V1 风格：参数里自带 deadline
const routerABI = `[
  {"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[
    {"name":"params","type":"tuple","components":[
      {"name":"tokenIn","type":"address"},
      {"name":"tokenOut","type":"address"},
      {"name":"fee","type":"uint24"},
      {"name":"recipient","type":"address"},
      {"name":"deadline","type":"uint256"},
      {"name":"amountIn","type":"uint256"},
      {"name":"amountOutMinimum","type":"uint256"},
      {"name":"sqrtPriceLimitX96","type":"uint160"}
    ]}
  ],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// NonfungiblePositionManager：单一头寸的 mint/increase/decrease/collect
const positionManagerABI = `[
  {"name":"mint","type":"function","stateMutability":"payable","inputs":[
    {"name":"params","type":"tuple","components":[
      {"name":"token0","type":"address"},
      {"name":"token1","type":"address"},
      {"name":"fee","type":"uint24"},
      {"name":"tickLower","type":"int24"},
      {"name":"tickUpper","type":"int24"},
      {"name":"amount0Desired","type":"uint256"},
      {"name":"amount1Desired","type":"uint256"},
      {"name":"amount0Min","type":"uint256"},
      {"name":"amount1Min","type":"uint256"},
      {"name":"recipient","type":"address"},
      {"name":"deadline","type":"uint256"}
    ]}
  ],"outputs":[
    {"name":"tokenId","type":"uint256"},
    {"name":"liquidity","type":"uint128"},
    {"name":"amount0","type":"uint256"},
    {"name":"amount1","type":"uint256"}
  ]},
  {"name":"increaseLiquidity","type":"function","stateMutability":"payable","inputs":[
    {"name":"params","type":"tuple","components":[
      {"name":"tokenId","type":"uint256"},
      {"name":"amount0Desired","type":"uint256"},
      {"name":"amount1Desired","type":"uint256"},
      {"name":"amount0Min","type":"uint256"},
      {"name":"amount1Min","type":"uint256"},
      {"name":"deadline","type":"uint256"}
    ]}
  ],"outputs":[
    {"name":"liquidity","type":"uint128"},
    {"name":"amount0","type":"uint256"},
    {"name":"amount1","type":"uint256"}
  ]},
  {"name":"decreaseLiquidity","type":"function","stateMutability":"payable","inputs":[
    {"name":"params","type":"tuple","components":[
      {"name":"tokenId","type":"uint256"},
      {"name":"liquidity","type":"uint128"},
      {"name":"amount0Min","type":"uint256"},
      {"name":"amount1Min","type":"uint256"},
      {"name":"deadline","type":"uint256"}
    ]}
  ],"outputs":[
    {"name":"amount0","type":"uint256"},
    {"name":"amount1","type":"uint256"}
  ]},
  {"name":"collect","type":"function","stateMutability":"payable","inputs":[
    {"name":"params","type":"tuple","components":[
      {"name":"tokenId","type":"uint256"},
      {"name":"recipient","type":"address"},
      {"name":"amount0Max","type":"uint128"},
      {"name":"amount1Max","type":"uint128"}
    ]}
  ],"outputs":[
    {"name":"amount0","type":"uint256"},
    {"name":"amount1","type":"uint256"}
  ]},
  {"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
    {"name":"nonce","type":"uint96"},
    {"name":"operator","type":"address"},
    {"name":"token0","type":"address"},
    {"name":"token1","type":"address"},
    {"name":"fee","type":"uint24"},
    {"name":"tickLower","type":"int24"},
    {"name":"tickUpper","type":"int24"},
    {"name":"liquidity","type":"uint128"},
    {"name":"feeGrowthInside0LastX128","type":"uint256"},
    {"name":"feeGrowthInside1LastX128","type":"uint256"},
    {"name":"tokensOwed0","type":"uint128"},
    {"name":"tokensOwed1","type":"uint128"}
  ]}
]`

const poolABI = `[
  {"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint8"},
    {"name":"unlocked","type":"bool"}
  ]},
  {"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}
]`
