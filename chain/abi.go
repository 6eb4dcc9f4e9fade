package chain

// GalleryABI is the CampusGallery contract interface consumed by this client.
// Counter getters return euint32 handles, which the ABI exposes as bytes32.
const GalleryABI = `[
  {
    "inputs": [],
    "name": "getAllArtworks",
    "outputs": [{"internalType": "uint256[]", "name": "", "type": "uint256[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "getArtwork",
    "outputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "address", "name": "artist", "type": "address"},
      {"internalType": "string", "name": "title", "type": "string"},
      {"internalType": "string", "name": "descriptionHash", "type": "string"},
      {"internalType": "string", "name": "fileHash", "type": "string"},
      {"internalType": "string[]", "name": "tags", "type": "string[]"},
      {"internalType": "string[]", "name": "categories", "type": "string[]"},
      {"internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "getLikes",
    "outputs": [{"internalType": "euint32", "name": "", "type": "bytes32"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "string", "name": "category", "type": "string"}
    ],
    "name": "getVotes",
    "outputs": [{"internalType": "euint32", "name": "", "type": "bytes32"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "string", "name": "title", "type": "string"},
      {"internalType": "string", "name": "descriptionHash", "type": "string"},
      {"internalType": "string", "name": "fileHash", "type": "string"},
      {"internalType": "string[]", "name": "tags", "type": "string[]"},
      {"internalType": "string[]", "name": "categories", "type": "string[]"}
    ],
    "name": "submitPainting",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
    "name": "likeArtwork",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "string", "name": "category", "type": "string"}
    ],
    "name": "voteArtwork",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "artist", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "title", "type": "string"}
    ],
    "name": "ArtworkSubmitted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "ArtworkLiked",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "voter", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "category", "type": "string"}
    ],
    "name": "ArtworkVoted",
    "type": "event"
  }
]`
