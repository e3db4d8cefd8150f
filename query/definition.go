package query

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dianpeng/xtab/table"
	"github.com/pkg/errors"
)

// Definition is the persisted, design time form of a query:
//
//   name = "sales"
//   [root]
//   kind   = "scan"
//   source = "orders"
//   columns = [
//     { name = "region" },
//     { name = "amount", type = "float" },
//     { name = "month", kind = "daterange", base = "date", level = "month" },
//   ]
//   where = ["amount > 0"]
//   [[root.aggregate.group]]
//   column = "region"
//   sort   = "asc"
//   [[root.aggregate.measure]]
//   column  = "amount"
//   formula = "sum"
type Definition struct {
	Name string  `toml:"name"`
	Root NodeDef `toml:"root"`
}

type NodeDef struct {
	Kind      string            `toml:"kind"`
	Name      string            `toml:"name"`
	Source    string            `toml:"source"`
	Columns   []ColumnDef       `toml:"columns"`
	Where     []string          `toml:"where"`
	Having    []string          `toml:"having"`
	Order     []OrderDef        `toml:"order"`
	MaxRows   int               `toml:"max_rows"`
	Distinct  bool              `toml:"distinct"`
	Aggregate *AggregateDef     `toml:"aggregate"`
	Inputs    []NodeDef         `toml:"inputs"`
	Renames   map[string]string `toml:"renames"`
	Join      string            `toml:"join"`
	Keys      []JoinKeyDef      `toml:"keys"`
	All       bool              `toml:"all"`
}

type ColumnDef struct {
	Name   string `toml:"name"`
	Kind   string `toml:"kind"`
	Expr   string `toml:"expr"`
	Base   string `toml:"base"`
	Level  string `toml:"level"`
	Type   string `toml:"type"`
	Hidden bool   `toml:"hidden"`
	Format string `toml:"format"`
}

type OrderDef struct {
	Column string `toml:"column"`
	Dir    string `toml:"dir"`
}

type JoinKeyDef struct {
	Left  string `toml:"left"`
	Right string `toml:"right"`
}

type AggregateDef struct {
	Crosstab     bool          `toml:"crosstab"`
	GrandTotal   bool          `toml:"grand_total"`
	Groups       []GroupDef    `toml:"group"`
	Measures     []MeasureDef  `toml:"measure"`
	CrossOptions *CrossOptsDef `toml:"crosstab_options"`
}

type GroupDef struct {
	Column      string          `toml:"column"`
	Name        string          `toml:"name"`
	Sort        string          `toml:"sort"`
	Interval    string          `toml:"interval"`
	Named       []NamedGroupDef `toml:"named"`
	Others      bool            `toml:"others"`
	OthersLabel string          `toml:"others_label"`
	Subtotal    bool            `toml:"subtotal"`
	Ranking     *RankingDef     `toml:"ranking"`
}

type NamedGroupDef struct {
	Label  string        `toml:"label"`
	Values []interface{} `toml:"values"`
}

type RankingDef struct {
	Measure  int  `toml:"measure"`
	N        int  `toml:"n"`
	Bottom   bool `toml:"bottom"`
	KeepTies bool `toml:"ties"`
	Others   bool `toml:"others"`
}

type MeasureDef struct {
	Column     string `toml:"column"`
	Secondary  string `toml:"secondary"`
	Formula    string `toml:"formula"`
	Name       string `toml:"name"`
	Caption    string `toml:"caption"`
	Percentage string `toml:"percentage"`
}

type CrossOptsDef struct {
	PercentDirection string        `toml:"percent_direction"`
	RowGrandTotal    bool          `toml:"row_grand_total"`
	ColGrandTotal    bool          `toml:"col_grand_total"`
	TimeSeries       bool          `toml:"time_series"`
	Drilled          bool          `toml:"drilled"`
	Calc             []CalcColDef  `toml:"calc"`
}

type CalcColDef struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Measure int    `toml:"measure"`
	Expr    string `toml:"expr"`
}

func ParseDefinition(text string) (*Definition, error) {
	def := &Definition{}
	if _, err := toml.Decode(text, def); err != nil {
		return nil, errors.Wrap(err, "parse query definition")
	}
	return def, nil
}

func LoadDefinition(path string) (*Definition, error) {
	def := &Definition{}
	if _, err := toml.DecodeFile(path, def); err != nil {
		return nil, errors.Wrapf(err, "load query definition %s", path)
	}
	return def, nil
}

// Query converts the definition into a LogicalQuery and validates it
func (self *Definition) Query() (*LogicalQuery, error) {
	root, err := self.Root.node()
	if err != nil {
		return nil, errors.Wrapf(err, "query %q", self.Name)
	}
	q := &LogicalQuery{
		Name: self.Name,
		Root: root,
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (self *NodeDef) info() (NodeInfo, error) {
	info := NodeInfo{
		Name:     self.Name,
		Columns:  &ColumnSet{},
		Pre:      ConditionList(self.Where),
		Post:     ConditionList(self.Having),
		MaxRows:  self.MaxRows,
		Distinct: self.Distinct,
	}

	for _, c := range self.Columns {
		col, err := c.column()
		if err != nil {
			return info, err
		}
		if err := info.Columns.Add(col); err != nil {
			return info, err
		}
	}

	for _, o := range self.Order {
		d, err := ParseSortDir(o.Dir)
		if err != nil {
			return info, err
		}
		if d == SortOriginal {
			d = SortAsc
		}
		info.Sort = append(info.Sort, SortRef{Column: o.Column, Dir: d})
	}

	if self.Aggregate != nil {
		a, err := self.Aggregate.spec()
		if err != nil {
			return info, err
		}
		info.Aggregate = a
	}
	return info, nil
}

func (self *NodeDef) node() (Node, error) {
	info, err := self.info()
	if err != nil {
		return nil, err
	}
	inputs := []Node{}
	for i := range self.Inputs {
		n, err := self.Inputs[i].node()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, n)
	}
	arity := func(n int) error {
		if len(inputs) != n {
			return fmt.Errorf("node %q of kind %s requires %d input(s), got %d", self.Name, self.Kind, n, len(inputs))
		}
		return nil
	}

	switch strings.ToLower(self.Kind) {
	case "", "scan":
		return &Scan{NodeInfo: info, Source: self.Source}, nil
	case "mirror":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &Mirror{NodeInfo: info, Child: inputs[0], Renames: self.Renames}, nil
	case "join":
		if err := arity(2); err != nil {
			return nil, err
		}
		k, err := ParseJoinKind(strings.ToLower(self.Join))
		if err != nil {
			return nil, err
		}
		j := &Join{NodeInfo: info, Left: inputs[0], Right: inputs[1], Kind: k}
		for _, key := range self.Keys {
			j.Keys = append(j.Keys, JoinKey{Left: key.Left, Right: key.Right})
		}
		return j, nil
	case "concatenate", "concat", "union":
		return &Concatenate{NodeInfo: info, Inputs: inputs, All: self.All}, nil
	case "rotate":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &Rotate{NodeInfo: info, Child: inputs[0]}, nil
	case "crosstab_bound":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &CrosstabBound{NodeInfo: info, Child: inputs[0]}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", self.Kind)
	}
}

func (self *ColumnDef) column() (*ColumnRef, error) {
	ty, err := table.ParseType(self.Type)
	if err != nil {
		return nil, err
	}
	var c *ColumnRef

	switch strings.ToLower(self.Kind) {
	case "":
		switch {
		case self.Expr != "":
			c = Expression(self.Name, self.Expr)
		case self.Level != "":
			l, err := ParseDateLevel(self.Level)
			if err != nil {
				return nil, err
			}
			c = DateRange(self.Name, self.Base, l)
		case self.Base != "":
			c = Alias(self.Name, self.Base)
		default:
			c = Physical(self.Name)
		}
	case "physical":
		c = Physical(self.Name)
	case "expression", "expr":
		c = Expression(self.Name, self.Expr)
	case "alias":
		c = Alias(self.Name, self.Base)
	case "daterange", "date_range":
		l, err := ParseDateLevel(self.Level)
		if err != nil {
			return nil, err
		}
		c = DateRange(self.Name, self.Base, l)
	default:
		return nil, fmt.Errorf("unknown column kind %q", self.Kind)
	}
	if ty != table.TypeUnknown {
		c.Type = ty
	}
	c.Visible = !self.Hidden
	c.Format = self.Format
	return c, nil
}

func (self *AggregateDef) spec() (*AggregateSpec, error) {
	spec := &AggregateSpec{
		Crosstab:   self.Crosstab,
		GrandTotal: self.GrandTotal,
	}

	for _, g := range self.Groups {
		dir, err := ParseSortDir(g.Sort)
		if err != nil {
			return nil, err
		}
		lvl, err := ParseDateLevel(g.Interval)
		if err != nil {
			return nil, err
		}
		ref := &GroupRef{
			Column:   g.Column,
			Name:     g.Name,
			Subtotal: g.Subtotal,
			Order: SortOrder{
				Dir:         dir,
				Interval:    lvl,
				Others:      g.Others,
				OthersLabel: g.OthersLabel,
			},
		}
		for _, n := range g.Named {
			ref.Order.Named = append(ref.Order.Named, NamedGroup{Label: n.Label, Values: normalizeValues(n.Values)})
		}
		if r := g.Ranking; r != nil {
			ref.Ranking = &RankingCondition{
				Measure:  r.Measure,
				N:        r.N,
				Top:      !r.Bottom,
				KeepTies: r.KeepTies,
				Others:   r.Others,
			}
		}
		spec.Groups = append(spec.Groups, ref)
	}

	for _, m := range self.Measures {
		f, err := ParseFormula(m.Formula)
		if err != nil {
			return nil, err
		}
		p, err := ParsePercent(m.Percentage)
		if err != nil {
			return nil, err
		}
		spec.Aggregates = append(spec.Aggregates, &AggregateRef{
			Column:     m.Column,
			Secondary:  m.Secondary,
			Formula:    f,
			Name:       m.Name,
			Caption:    m.Caption,
			Percentage: p,
		})
	}

	if o := self.CrossOptions; o != nil {
		switch strings.ToLower(o.PercentDirection) {
		case "", "column", "col":
			spec.Cross.PercentDirection = PercentByColumn
		case "row":
			spec.Cross.PercentDirection = PercentByRow
		default:
			return nil, fmt.Errorf("unknown percent direction %q", o.PercentDirection)
		}
		spec.Cross.RowGrandTotal = o.RowGrandTotal
		spec.Cross.ColGrandTotal = o.ColGrandTotal
		spec.Cross.TimeSeries = o.TimeSeries
		spec.Cross.Drilled = o.Drilled
		for _, c := range o.Calc {
			k, err := ParseCalcKind(c.Kind)
			if err != nil {
				return nil, err
			}
			spec.Cross.CalcColumns = append(spec.Cross.CalcColumns, CalcColumn{
				Name:    c.Name,
				Kind:    k,
				Measure: c.Measure,
				Expr:    c.Expr,
			})
		}
	}
	return spec, nil
}

func normalizeValues(in []interface{}) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, v := range in {
		out = append(out, table.Normalize(v))
	}
	return out
}
