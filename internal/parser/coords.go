package parser

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// 坐标系说明：
//   - 锚点坐标（Anchor）：0 基行列，行 0 为表头行
//   - Excel 行号：1 基，表头为第 1 行
//   - _index：商品对应的 Excel 行号，首个数据行为 2
//   - 数据行下标：0 基，不含表头

// HeaderRow 表头所在 Excel 行号
const HeaderRow = 1

// Anchor 图片锚点（0 基行列）
type Anchor struct {
	Row int
	Col int
}

// IndexForDataRow 数据行下标 -> _index
func IndexForDataRow(i int) int { return i + 2 }

// AnchorRowForDataRow 数据行下标 -> 锚点行
func AnchorRowForDataRow(i int) int { return i + 1 }

// AnchorRowForIndex _index -> 锚点行
func AnchorRowForIndex(index int) int { return index - 1 }

// ExcelRowForAnchorRow 锚点行 -> Excel 行号
func ExcelRowForAnchorRow(row int) int { return row + 1 }

// TargetRowForPosition 输出序号（0 基）-> 目标 Excel 行号
func TargetRowForPosition(i int) int { return i + 2 }

// AnchorFromCell "C2" -> {Row:1, Col:2}
func AnchorFromCell(cell string) (Anchor, error) {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return Anchor{}, err
	}
	return Anchor{Row: row - 1, Col: col - 1}, nil
}

// CellFromAnchor {Row:1, Col:2} -> "C2"
func CellFromAnchor(a Anchor) (string, error) {
	if a.Row < 0 || a.Col < 0 {
		return "", fmt.Errorf("invalid anchor %d,%d", a.Row, a.Col)
	}
	return excelize.CoordinatesToCellName(a.Col+1, a.Row+1)
}

// CellName 0 基列 + Excel 行号 -> 单元格名
func CellName(col, excelRow int) string {
	name, err := excelize.CoordinatesToCellName(col+1, excelRow)
	if err != nil {
		return ""
	}
	return name
}
