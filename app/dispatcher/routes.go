package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/AlekSi/pointer"

	"restaurant/domain/restaurant"
	"restaurant/errors"
)

// handler 已完成解码与校验的请求
type handler struct {
	run func(ctx context.Context) (int, any, error)
	// table 返回请求涉及的餐桌；为 nil 表示不按餐桌串行
	table func(ctx context.Context) (int64, error)
}

type route struct {
	entity Entity
	op     Operation
}

type builder func(d *Dispatcher, req Request) (handler, error)

var routes = map[route]builder{
	{EntityMenuItem, OpCreate}:       createMenuItem,
	{EntityMenuItem, OpGet}:          getMenuItem,
	{EntityMenuItem, OpList}:         listMenuItems,
	{EntityMenuItem, OpUpdate}:       updateMenuItem,
	{EntityMenuItem, OpUpdateStatus}: setAvailability,
	{EntityMenuItem, OpDelete}:       deleteMenuItem,

	{EntityTable, OpCreate}:       createTable,
	{EntityTable, OpGet}:          getTable,
	{EntityTable, OpList}:         listTables,
	{EntityTable, OpUpdateStatus}: updateTableStatus,
	{EntityTable, OpListItems}:    tableItems,
	{EntityTable, OpGetItem}:      tableItem,

	{EntityOrder, OpCreate}:       createOrder,
	{EntityOrder, OpGet}:          getOrder,
	{EntityOrder, OpList}:         listOrders,
	{EntityOrder, OpUpdateStatus}: updateOrderStatus,
	{EntityOrder, OpAddLines}:     addLines,
	{EntityOrder, OpRemoveItem}:   removeItem,

	{"", OpState}: state,
}

// prepare 解码请求体与查询参数，返回可执行的处理器
func (d *Dispatcher) prepare(req Request) (handler, error) {
	build, ok := routes[route{req.Entity, req.Operation}]
	if !ok {
		return handler{}, errors.NewError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("operation %s is not supported", req.String())).
			WithDetails(map[string]any{"operation": string(req.Operation), "entity": string(req.Entity)})
	}
	return build(d, req)
}

func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.NewError(errors.ErrCodeInvalidInput, "request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "failed to parse JSON")
	}
	return nil
}

func queryInt(req Request, key string) (int64, error) {
	s := req.Query.Get(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.NewErrorf(errors.ErrCodeInvalidInput, "query %s must be a positive integer", key)
	}
	return v, nil
}

func queryBool(req Request, key string) (*bool, error) {
	s := req.Query.Get(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "query %s must be a boolean", key)
	}
	return pointer.To(v), nil
}

func respondOK(data any, err error) (int, any, error) { return http.StatusOK, data, err }
func respondCreated(data any, err error) (int, any, error) { return http.StatusCreated, data, err }

type statusBody struct {
	Status string `json:"status"`
}

type availabilityBody struct {
	Available *bool `json:"available"`
}

type linesBody struct {
	Lines []restaurant.LineInput `json:"lines"`
}

// 菜品

func createMenuItem(d *Dispatcher, req Request) (handler, error) {
	var in restaurant.MenuItemInput
	if err := decodeBody(req.Body, &in); err != nil {
		return handler{}, err
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondCreated(d.repos.Menu.Create(ctx, in))
	}}, nil
}

func getMenuItem(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Menu.GetByID(ctx, req.PathID))
	}}, nil
}

func listMenuItems(d *Dispatcher, req Request) (handler, error) {
	available, err := queryBool(req, "available")
	if err != nil {
		return handler{}, err
	}
	filter := restaurant.MenuFilter{Available: available}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Menu.List(ctx, filter))
	}}, nil
}

func updateMenuItem(d *Dispatcher, req Request) (handler, error) {
	var upd restaurant.MenuItemUpdate
	if err := decodeBody(req.Body, &upd); err != nil {
		return handler{}, err
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Menu.Update(ctx, req.PathID, upd))
	}}, nil
}

func setAvailability(d *Dispatcher, req Request) (handler, error) {
	var body availabilityBody
	if err := decodeBody(req.Body, &body); err != nil {
		return handler{}, err
	}
	if body.Available == nil {
		return handler{}, errors.NewError(errors.ErrCodeValidation, "available is required").
			WithContext("field", "available")
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Menu.SetAvailability(ctx, req.PathID, *body.Available))
	}}, nil
}

func deleteMenuItem(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return http.StatusNoContent, nil, d.repos.Menu.Delete(ctx, req.PathID)
	}}, nil
}

// 餐桌

func createTable(d *Dispatcher, req Request) (handler, error) {
	var in restaurant.TableInput
	if err := decodeBody(req.Body, &in); err != nil {
		return handler{}, err
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondCreated(d.repos.Tables.Create(ctx, in))
	}}, nil
}

func getTable(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Tables.GetByID(ctx, req.PathID))
	}}, nil
}

func listTables(d *Dispatcher, req Request) (handler, error) {
	filter := restaurant.TableFilter{Status: restaurant.TableStatus(req.Query.Get("status"))}
	if err := filter.Validate(); err != nil {
		return handler{}, err
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Tables.List(ctx, filter))
	}}, nil
}

func updateTableStatus(d *Dispatcher, req Request) (handler, error) {
	var body statusBody
	if err := decodeBody(req.Body, &body); err != nil {
		return handler{}, err
	}
	to, err := restaurant.ParseTableStatus(body.Status)
	if err != nil {
		return handler{}, err
	}
	return handler{
		run: func(ctx context.Context) (int, any, error) {
			return respondOK(d.repos.Tables.UpdateStatus(ctx, req.PathID, to))
		},
		table: fixedTable(req.PathID),
	}, nil
}

func tableItems(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Orders.TableItems(ctx, req.PathID))
	}}, nil
}

func tableItem(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Orders.TableItem(ctx, req.PathID, req.SubID))
	}}, nil
}

// 订单

func createOrder(d *Dispatcher, req Request) (handler, error) {
	var in restaurant.OrderInput
	if err := decodeBody(req.Body, &in); err != nil {
		return handler{}, err
	}
	if err := in.Validate(); err != nil {
		return handler{}, err
	}
	return handler{
		run: func(ctx context.Context) (int, any, error) {
			return respondCreated(d.repos.Orders.Create(ctx, in))
		},
		table: fixedTable(in.TableID),
	}, nil
}

func getOrder(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Orders.GetByID(ctx, req.PathID))
	}}, nil
}

func listOrders(d *Dispatcher, req Request) (handler, error) {
	tableID, err := queryInt(req, "table_id")
	if err != nil {
		return handler{}, err
	}
	filter := restaurant.OrderFilter{
		Status:  restaurant.OrderStatus(req.Query.Get("status")),
		TableID: tableID,
	}
	if err := filter.Validate(); err != nil {
		return handler{}, err
	}
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Orders.List(ctx, filter))
	}}, nil
}

func updateOrderStatus(d *Dispatcher, req Request) (handler, error) {
	var body statusBody
	if err := decodeBody(req.Body, &body); err != nil {
		return handler{}, err
	}
	to, err := restaurant.ParseOrderStatus(body.Status)
	if err != nil {
		return handler{}, err
	}
	return handler{
		run: func(ctx context.Context) (int, any, error) {
			return respondOK(d.repos.Orders.UpdateStatus(ctx, req.PathID, to))
		},
		table: d.orderTable(req.PathID),
	}, nil
}

func addLines(d *Dispatcher, req Request) (handler, error) {
	var body linesBody
	if err := decodeBody(req.Body, &body); err != nil {
		return handler{}, err
	}
	lines, err := restaurant.ValidateLines(body.Lines)
	if err != nil {
		return handler{}, err
	}
	return handler{
		run: func(ctx context.Context) (int, any, error) {
			return respondOK(d.repos.Orders.AddLines(ctx, req.PathID, lines))
		},
		table: d.orderTable(req.PathID),
	}, nil
}

func removeItem(d *Dispatcher, req Request) (handler, error) {
	return handler{
		run: func(ctx context.Context) (int, any, error) {
			return respondOK(d.repos.Orders.RemoveItem(ctx, req.PathID, req.SubID))
		},
		table: d.orderTable(req.PathID),
	}, nil
}

func state(d *Dispatcher, req Request) (handler, error) {
	return handler{run: func(ctx context.Context) (int, any, error) {
		return respondOK(d.repos.Orders.State(ctx))
	}}, nil
}

func fixedTable(id int64) func(context.Context) (int64, error) {
	return func(context.Context) (int64, error) { return id, nil }
}

// orderTable 订单所属餐桌在订单生命周期内不变，读一次即可
func (d *Dispatcher) orderTable(orderID int64) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		o, err := d.repos.Orders.GetByID(ctx, orderID)
		if err != nil {
			return 0, err
		}
		return o.TableID, nil
	}
}
