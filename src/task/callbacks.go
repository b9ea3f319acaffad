package task

import "fmt"

// CallBack 把函数适配成TaskCallback
type CallBack struct {
	taskCallback func(result interface{}, err error)
}

// NewCallBack 创建回调适配器
func NewCallBack(callback func(result interface{}, err error)) *CallBack {
	return &CallBack{
		taskCallback: callback,
	}
}

func (cb *CallBack) OnComplete(result interface{}) {
	if cb.taskCallback != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("Callback panic recovered: %v\n", r)
				}
			}()
			cb.taskCallback(result, nil)
		}()
	}
}

func (cb *CallBack) OnError(err error) {
	if cb.taskCallback != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("Error callback panic recovered: %v\n", r)
				}
			}()
			cb.taskCallback(nil, err)
		}()
	}
}
