package rules

import nchess "github.com/corentings/chess/v2"

var (
	knightSteps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays    = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays  = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// kingAttacked reports whether side's king stands on a square attacked by the opponent.
func kingAttacked(board *nchess.Board, side nchess.Color) bool {
	if board == nil {
		return false
	}
	kf, kr, ok := findKing(board, side)
	if !ok {
		return false
	}
	enemy := nchess.White
	if side == nchess.White {
		enemy = nchess.Black
	}
	return squareAttacked(board, kf, kr, enemy)
}

func findKing(board *nchess.Board, side nchess.Color) (int, int, bool) {
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			p := pieceAt(board, f, r)
			if p != nchess.NoPiece && p.Type() == nchess.King && p.Color() == side {
				return f, r, true
			}
		}
	}
	return 0, 0, false
}

func squareAttacked(board *nchess.Board, f, r int, by nchess.Color) bool {
	// pawns attack diagonally forward, so look one rank behind the target
	dir := -1
	if by == nchess.Black {
		dir = 1
	}
	for _, df := range [2]int{-1, 1} {
		if isPiece(board, f+df, r+dir, by, nchess.Pawn) {
			return true
		}
	}
	for _, s := range knightSteps {
		if isPiece(board, f+s[0], r+s[1], by, nchess.Knight) {
			return true
		}
	}
	for _, s := range kingSteps {
		if isPiece(board, f+s[0], r+s[1], by, nchess.King) {
			return true
		}
	}
	if rayHits(board, f, r, by, rookRays[:], nchess.Rook) {
		return true
	}
	return rayHits(board, f, r, by, bishopRays[:], nchess.Bishop)
}

// rayHits walks each ray until the first occupied square and checks for slider or queen.
func rayHits(board *nchess.Board, f, r int, by nchess.Color, rays [][2]int, slider nchess.PieceType) bool {
	for _, ray := range rays {
		cf, cr := f+ray[0], r+ray[1]
		for onBoard(cf, cr) {
			p := pieceAt(board, cf, cr)
			if p != nchess.NoPiece {
				if p.Color() == by && (p.Type() == slider || p.Type() == nchess.Queen) {
					return true
				}
				break
			}
			cf += ray[0]
			cr += ray[1]
		}
	}
	return false
}

func isPiece(board *nchess.Board, f, r int, color nchess.Color, pt nchess.PieceType) bool {
	if !onBoard(f, r) {
		return false
	}
	p := pieceAt(board, f, r)
	return p != nchess.NoPiece && p.Color() == color && p.Type() == pt
}

func pieceAt(board *nchess.Board, f, r int) nchess.Piece {
	return board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
}

func onBoard(f, r int) bool { return f >= 0 && f < 8 && r >= 0 && r < 8 }
